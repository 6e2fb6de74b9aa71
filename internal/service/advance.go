package service

import (
	"context"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/utils"
	"github.com/google/uuid"
)

// report completes a ready match. Reporting the winner a completed match
// already has is accepted and replays the advancement.
func (s *BracketService) report(ctx context.Context, p *pass, m *bracket.Match, winnerID uuid.UUID) error {
	if m.SlotOf(winnerID) == 0 {
		s.metrics.Rejection("invalid_winner")
		return bracket.NewMatchError(bracket.ErrInvalidWinner, m, 0, "participant %s does not occupy this match", winnerID)
	}

	switch m.Status {
	case bracket.MatchUnfilled:
		s.metrics.Rejection("match_not_ready")
		return bracket.NewMatchError(bracket.ErrMatchNotReady, m, 0, "both slots must be occupied")
	case bracket.MatchCompleted:
		return s.replayCompleted(ctx, p, m, winnerID)
	}

	ok, err := s.completeMatch(ctx, m.ID, &winnerID, false)
	if err != nil {
		return err
	}
	if !ok {
		// Someone else moved the match on since we read it
		if m, err = s.getMatch(ctx, m.ID); err != nil {
			return err
		}
		if m.Status == bracket.MatchCompleted {
			return s.replayCompleted(ctx, p, m, winnerID)
		}
		s.metrics.Rejection("match_not_ready")
		return bracket.NewMatchError(bracket.ErrMatchNotReady, m, 0, "match is %s", m.Status)
	}

	p.touch(m.ID)
	s.logger.Info("result reported", "tournament_id", m.TournamentID, "match_id", m.ID,
		"round", m.RoundNumber, "slot_index", m.SlotIndex, "winner_id", winnerID)

	if m, err = s.getMatch(ctx, m.ID); err != nil {
		return err
	}
	return s.advance(ctx, p, m)
}

func (s *BracketService) replayCompleted(ctx context.Context, p *pass, m *bracket.Match, winnerID uuid.UUID) error {
	if !utils.EqualPtr(m.WinnerParticipantID, &winnerID) {
		s.metrics.Rejection("slot_conflict")
		return bracket.NewMatchError(bracket.ErrSlotConflict, m, 0,
			"match already completed with winner %s", m.Advancing())
	}
	return s.advance(ctx, p, m)
}

// advance moves the occupant a completed match sends on into its downstream
// slot, creating the downstream round first when it does not exist yet.
func (s *BracketService) advance(ctx context.Context, p *pass, m *bracket.Match) error {
	if m.Status != bracket.MatchCompleted {
		return nil
	}
	if p.topo.IsFinal(m.RoundNumber) {
		return s.completeTournament(ctx, p)
	}

	target, ok := p.topo.Downstream(m.RoundNumber, m.SlotIndex)
	if !ok {
		return s.inconsistent(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, 0,
			"position round %d slot index %d is outside %s", m.RoundNumber, m.SlotIndex, p.topo))
	}

	ds, err := s.downstream(ctx, p, m, target)
	if err != nil {
		return err
	}

	occupant := m.Advancing()
	if ds.Slot(target.Slot).Equal(occupant) {
		return s.refresh(ctx, p, ds.ID)
	}
	if err := s.fill(ctx, p, ds, target.Slot, occupant); err != nil {
		return err
	}

	s.metrics.Advancement()
	s.logger.Info("occupant advanced", "tournament_id", m.TournamentID, "from_match", m.ID,
		"to_match", ds.ID, "round", target.Round, "slot", target.Slot, "occupant", occupant)

	return s.refresh(ctx, p, ds.ID)
}

// downstream resolves the record at target, materializing its round when it
// is missing. A stored link that disagrees with the arithmetic is refused, a
// missing one is written.
func (s *BracketService) downstream(ctx context.Context, p *pass, m *bracket.Match, target bracket.Position) (*bracket.Match, error) {
	ds, err := s.getMatchAt(ctx, m.TournamentID, target.Round, target.SlotIndex)
	if isNotFound(err) {
		if err := s.materialize(ctx, p, target.Round); err != nil {
			return nil, err
		}
		ds, err = s.getMatchAt(ctx, m.TournamentID, target.Round, target.SlotIndex)
	}
	if err != nil {
		return nil, err
	}

	if m.FeedsToID != nil && (*m.FeedsToID != ds.ID || m.FeedsToSlot == nil || *m.FeedsToSlot != target.Slot) {
		return nil, s.inconsistent(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, 0,
			"feeds into %s slot %v, arithmetic says %s slot %d", m.FeedsToID, derefSlot(m.FeedsToSlot), ds.ID, target.Slot))
	}

	written, err := s.link(ctx, p, m, ds, target.Slot)
	if err != nil {
		return nil, err
	}
	if written > 0 {
		p.repairs += written
		s.metrics.Repair("link")
		s.logger.Warn("missing link repaired", "tournament_id", m.TournamentID, "from_match", m.ID, "to_match", ds.ID, "links", written)
		return s.getMatch(ctx, ds.ID)
	}
	return ds, nil
}

// fill writes an occupant into an empty slot. Writing the occupant the slot
// already holds is a no-op, anything else is a conflict and leaves the slot
// as it was.
func (s *BracketService) fill(ctx context.Context, p *pass, m *bracket.Match, pos int, occupant bracket.Occupant) error {
	current := m.Slot(pos)
	if current.IsEmpty() {
		ok, err := s.fillSlot(ctx, m.ID, pos, occupant)
		if err != nil {
			return err
		}
		if ok {
			p.touch(m.ID)
			m.SetSlot(pos, occupant)
			return nil
		}
		if m, err = s.getMatch(ctx, m.ID); err != nil {
			return err
		}
		current = m.Slot(pos)
	}

	if current.Equal(occupant) {
		return nil
	}

	s.metrics.Rejection("slot_conflict")
	if current.IsEmpty() {
		return bracket.NewMatchError(bracket.ErrSlotConflict, m, pos, "match is %s and takes no new occupants", m.Status)
	}
	return bracket.NewMatchError(bracket.ErrSlotConflict, m, pos, "slot holds %s, refusing %s", current, occupant)
}

// refresh moves a match to ready once both sides are occupied and resolves it
// as a bye when a placeholder is involved.
func (s *BracketService) refresh(ctx context.Context, p *pass, matchID uuid.UUID) error {
	m, err := s.getMatch(ctx, matchID)
	if err != nil {
		return err
	}

	if m.Status == bracket.MatchUnfilled && m.BothOccupied() {
		ok, err := s.setStatus(ctx, m.ID, bracket.MatchUnfilled, bracket.MatchReady)
		if err != nil {
			return err
		}
		if ok {
			p.touch(m.ID)
		}
		if m, err = s.getMatch(ctx, m.ID); err != nil {
			return err
		}
	}

	if m.Status == bracket.MatchReady && m.HasPlaceholder() {
		return s.resolveBye(ctx, p, m)
	}
	return nil
}
