package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/utils"
)

// materialize creates the missing records of a round, earliest round first.
// Records that already exist are never recreated, and their links are only
// checked against the arithmetic.
func (s *BracketService) materialize(ctx context.Context, p *pass, round int) error {
	if round < 1 || round > p.topo.Rounds() {
		s.metrics.Rejection("invalid_round")
		return &bracket.MatchError{
			Kind:   bracket.ErrInvalidRound,
			Round:  round,
			Detail: fmt.Sprintf("bracket has %d rounds", p.topo.Rounds()),
		}
	}

	existing, err := s.getRound(ctx, p.tournament.ID, round)
	if err != nil {
		return err
	}
	missing := missingMatches(p, round, existing)
	if len(missing) == 0 {
		return nil
	}

	if round == 1 {
		return s.materializeFirstRound(ctx, p, missing)
	}

	prev, err := s.getRound(ctx, p.tournament.ID, round-1)
	if err != nil {
		return err
	}
	if len(prev) < p.topo.MatchCount(round-1) {
		if err := s.materialize(ctx, p, round-1); err != nil {
			return err
		}
	}

	if err := s.createMatches(ctx, missing); err != nil {
		return err
	}
	for _, m := range missing {
		p.touch(m.ID)
	}
	s.logger.Info("round materialized", "tournament_id", p.tournament.ID, "round", round, "created", len(missing))

	return s.connectRound(ctx, p, round)
}

func missingMatches(p *pass, round int, existing []bracket.Match) []bracket.Match {
	have := make(map[int]bool, len(existing))
	for _, m := range existing {
		have[m.SlotIndex] = true
	}

	var missing []bracket.Match
	for j := 0; j < p.topo.MatchCount(round); j++ {
		if !have[j] {
			missing = append(missing, bracket.NewMatch(p.tournament.ID, round, j))
		}
	}
	return missing
}

// materializeFirstRound writes round 1 already seeded. Under manual seeding the
// records start empty and are filled through AssignSlot.
func (s *BracketService) materializeFirstRound(ctx context.Context, p *pass, missing []bracket.Match) error {
	if p.tournament.Seeding != bracket.SeedManual {
		participants, err := s.getParticipants(ctx, p.tournament.ID)
		if err != nil {
			return err
		}
		sequence, err := bracket.Seed(participants, p.topo)
		if err != nil {
			return err
		}

		for i := range missing {
			j := missing[i].SlotIndex
			missing[i].SetSlot(1, sequence[2*j])
			missing[i].SetSlot(2, sequence[2*j+1])
			if missing[i].BothOccupied() {
				missing[i].Status = bracket.MatchReady
			}
		}
	}

	if err := s.createMatches(ctx, missing); err != nil {
		return err
	}
	for _, m := range missing {
		p.touch(m.ID)
	}
	s.logger.Info("round materialized", "tournament_id", p.tournament.ID, "round", 1,
		"created", len(missing), "seeding", p.tournament.Seeding)

	for _, m := range missing {
		if err := s.refresh(ctx, p, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// connectRound links every record of a round to its feeders, fills sides no
// feeder will ever reach with a placeholder and replays the advancement of
// feeders that completed before the round existed.
func (s *BracketService) connectRound(ctx context.Context, p *pass, round int) error {
	prev, err := s.getRound(ctx, p.tournament.ID, round-1)
	if err != nil {
		return err
	}
	current, err := s.getRound(ctx, p.tournament.ID, round)
	if err != nil {
		return err
	}

	feeders := make(map[int]*bracket.Match, len(prev))
	for i := range prev {
		feeders[prev[i].SlotIndex] = &prev[i]
	}

	for i := range current {
		ds := &current[i]
		for _, pos := range []int{1, 2} {
			idx, ok := p.topo.Feeder(round, ds.SlotIndex, pos)
			if !ok {
				if ds.Slot(pos).IsEmpty() {
					if err := s.fill(ctx, p, ds, pos, bracket.PlaceholderOccupant()); err != nil {
						return err
					}
				}
				continue
			}
			up, ok := feeders[idx]
			if !ok {
				continue
			}
			if _, err := s.link(ctx, p, up, ds, pos); err != nil {
				return err
			}
		}
	}

	for i := range prev {
		if prev[i].Status != bracket.MatchCompleted {
			continue
		}
		up, err := s.getMatch(ctx, prev[i].ID)
		if err != nil {
			return err
		}
		if err := s.advance(ctx, p, up); err != nil {
			return err
		}
	}

	for _, ds := range current {
		if err := s.refresh(ctx, p, ds.ID); err != nil {
			return err
		}
	}
	return nil
}

// link records the upstream -> downstream edge on both records. Links already
// present must agree with the arithmetic. It returns how many links it wrote.
func (s *BracketService) link(ctx context.Context, p *pass, up, ds *bracket.Match, pos int) (int, error) {
	written := 0

	if up.FeedsToID == nil {
		ok, err := s.setFeedsTo(ctx, up.ID, ds.ID, pos)
		if err != nil {
			return written, err
		}
		if ok {
			written++
			p.touch(up.ID)
		} else if up, err = s.getMatch(ctx, up.ID); err != nil {
			return written, err
		}
	}
	if up.FeedsToID != nil && (*up.FeedsToID != ds.ID || up.FeedsToSlot == nil || *up.FeedsToSlot != pos) {
		return written, s.inconsistent(bracket.NewMatchError(bracket.ErrStructuralInconsistency, up, pos,
			"feeds into %s slot %v, arithmetic says %s slot %d", up.FeedsToID, derefSlot(up.FeedsToSlot), ds.ID, pos))
	}

	if ds.FeedsFrom(pos) == nil {
		ok, err := s.setFeedsFrom(ctx, ds.ID, pos, up.ID)
		if err != nil {
			return written, err
		}
		if ok {
			written++
			p.touch(ds.ID)
			ds.SetFeedsFrom(pos, utils.Ptr(up.ID))
		} else if ds, err = s.getMatch(ctx, ds.ID); err != nil {
			return written, err
		}
	}
	if from := ds.FeedsFrom(pos); from != nil && *from != up.ID {
		return written, s.inconsistent(bracket.NewMatchError(bracket.ErrStructuralInconsistency, ds, pos,
			"fed from %s, arithmetic says %s", from, up.ID))
	}
	return written, nil
}

func (s *BracketService) inconsistent(err *bracket.MatchError) error {
	s.metrics.Rejection("structural_inconsistency")
	s.logger.Error("structural inconsistency", "err", err)
	return err
}

func derefSlot(slot *int) any {
	if slot == nil {
		return "none"
	}
	return *slot
}

func isNotFound(err error) bool {
	return errors.Is(err, bracket.ErrNotFound)
}
