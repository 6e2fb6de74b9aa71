package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/google/uuid"
)

var ErrReconcileSuperseded = errors.New("reconciliation superseded by a newer pass")

// Reconcile re-derives every link, advancement, status and bye from round and
// slot arithmetic and repairs what a partially failed command left behind.
// Only one pass runs per tournament: starting a pass cancels the one in
// flight, which then returns ErrReconcileSuperseded.
func (s *BracketService) Reconcile(ctx context.Context, tournamentID uuid.UUID) (*Result, error) {
	ctx, done := s.passes.begin(ctx, tournamentID)
	defer done()

	start := time.Now()
	defer func() { s.metrics.ReconcileDuration(time.Since(start)) }()

	p, err := s.begin(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if err := s.reconcileTournament(ctx, p); err != nil {
		return nil, err
	}

	res, err := s.collect(ctx, p)
	if err != nil {
		return nil, err
	}
	s.logger.Info("reconciliation finished", "tournament_id", tournamentID,
		"touched", len(res.Touched), "repairs", res.Repairs, "duration", time.Since(start))
	return res, nil
}

func (s *BracketService) reconcileTournament(ctx context.Context, p *pass) error {
	if p.tournament.Status == bracket.TournamentDraft {
		return nil
	}
	tid := p.tournament.ID

	matches, err := s.getMatches(ctx, tid)
	if err != nil {
		return err
	}
	if err := s.checkStructure(p, matches); err != nil {
		return err
	}

	if p.topo.Rounds() == 0 {
		return s.completeTournament(ctx, p)
	}

	// Rounds: round 1 always, later rounds once a feeder has completed, all of
	// them under eager materialization.
	perRound := groupByRound(matches)
	for r := 1; r <= p.topo.Rounds(); r++ {
		if len(perRound[r]) >= p.topo.MatchCount(r) {
			continue
		}
		if r > 1 && p.tournament.Materialization != bracket.MaterializeEager && !anyCompleted(perRound[r-1]) {
			continue
		}
		if err := s.materialize(ctx, p, r); err != nil {
			return err
		}
		if perRound[r], err = s.getRound(ctx, tid, r); err != nil {
			return err
		}
	}

	// Links
	for r := 2; r <= p.topo.Rounds(); r++ {
		if err := s.repairLinks(ctx, p, r); err != nil {
			return err
		}
	}

	// Advancements
	if matches, err = s.getMatches(ctx, tid); err != nil {
		return err
	}
	for i := range matches {
		m := &matches[i]
		if m.Status != bracket.MatchCompleted {
			continue
		}
		if p.topo.IsFinal(m.RoundNumber) {
			if err := s.completeTournament(ctx, p); err != nil {
				return err
			}
			continue
		}
		target, _ := p.topo.Downstream(m.RoundNumber, m.SlotIndex)
		ds, err := s.getMatchAt(ctx, tid, target.Round, target.SlotIndex)
		if err != nil && !isNotFound(err) {
			return err
		}
		if ds != nil && ds.Slot(target.Slot).Equal(m.Advancing()) {
			continue
		}
		if err := s.advance(ctx, p, m); err != nil {
			return err
		}
		p.repairs++
		s.metrics.Repair("advancement")
	}

	// Statuses and byes
	if matches, err = s.getMatches(ctx, tid); err != nil {
		return err
	}
	for _, m := range matches {
		if (m.Status == bracket.MatchUnfilled && m.BothOccupied()) || (m.Status == bracket.MatchReady && m.HasPlaceholder()) {
			if err := s.refresh(ctx, p, m.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// repairLinks writes the links of a round that are missing. Feeder-less sides
// still empty get their placeholder.
func (s *BracketService) repairLinks(ctx context.Context, p *pass, round int) error {
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
				if ds.Slot(pos).IsEmpty() && ds.Status != bracket.MatchCompleted {
					if err := s.fill(ctx, p, ds, pos, bracket.PlaceholderOccupant()); err != nil {
						return err
					}
					p.repairs++
					s.metrics.Repair("placeholder")
				}
				continue
			}
			up, ok := feeders[idx]
			if !ok {
				continue
			}
			written, err := s.link(ctx, p, up, ds, pos)
			if err != nil {
				return err
			}
			if written > 0 {
				p.repairs += written
				s.metrics.Repair("link")
				s.logger.Info("missing link repaired", "tournament_id", p.tournament.ID,
					"from_match", up.ID, "to_match", ds.ID, "slot", pos, "links", written)
			}
		}
	}
	return nil
}

// checkStructure compares every stored position and link with the arithmetic.
// It only reads, so a bracket it rejects is left exactly as it was found.
func (s *BracketService) checkStructure(p *pass, matches []bracket.Match) error {
	var errs []error
	fail := func(err *bracket.MatchError) {
		errs = append(errs, s.inconsistent(err))
	}

	type position struct{ round, slotIndex int }
	type claim struct {
		id  uuid.UUID
		pos int
	}
	byPosition := make(map[position]*bracket.Match, len(matches))
	claims := make(map[claim]uuid.UUID)

	for i := range matches {
		m := &matches[i]
		if !p.topo.Contains(m.RoundNumber, m.SlotIndex) {
			fail(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, 0, "position is outside %s", p.topo))
			continue
		}
		byPosition[position{m.RoundNumber, m.SlotIndex}] = m
	}

	for i := range matches {
		m := &matches[i]
		if !p.topo.Contains(m.RoundNumber, m.SlotIndex) {
			continue
		}

		if m.FeedsToID != nil {
			target, ok := p.topo.Downstream(m.RoundNumber, m.SlotIndex)
			slot := derefSlot(m.FeedsToSlot)
			switch {
			case !ok:
				fail(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, 0, "final feeds into %s", m.FeedsToID))
			case m.FeedsToSlot == nil || *m.FeedsToSlot != target.Slot:
				fail(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, 0, "feeds into slot %v, arithmetic says %d", slot, target.Slot))
			default:
				expected := bracket.MatchID(p.tournament.ID, target.Round, target.SlotIndex)
				if ds, ok := byPosition[position{target.Round, target.SlotIndex}]; ok {
					expected = ds.ID
				}
				if *m.FeedsToID != expected {
					fail(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, 0, "feeds into %s, arithmetic says %s", m.FeedsToID, expected))
				}
			}

			c := claim{*m.FeedsToID, target.Slot}
			if m.FeedsToSlot != nil {
				c.pos = *m.FeedsToSlot
			}
			if other, taken := claims[c]; taken {
				fail(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, c.pos, "match %s claims the same downstream slot", other))
			}
			claims[c] = m.ID
		}

		for _, pos := range []int{1, 2} {
			from := m.FeedsFrom(pos)
			if from == nil {
				continue
			}
			idx, ok := p.topo.Feeder(m.RoundNumber, m.SlotIndex, pos)
			if !ok {
				fail(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, pos, "fed from %s but no feeder exists", from))
				continue
			}
			expected := bracket.MatchID(p.tournament.ID, m.RoundNumber-1, idx)
			if up, ok := byPosition[position{m.RoundNumber - 1, idx}]; ok {
				expected = up.ID
			}
			if *from != expected {
				fail(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, pos, "fed from %s, arithmetic says %s", from, expected))
			}
		}

		if m.Status == bracket.MatchCompleted && m.WinnerParticipantID != nil && m.SlotOf(*m.WinnerParticipantID) == 0 {
			fail(bracket.NewMatchError(bracket.ErrStructuralInconsistency, m, 0, "winner %s does not occupy the match", m.WinnerParticipantID))
		}
	}

	return errors.Join(errs...)
}

func groupByRound(matches []bracket.Match) map[int][]bracket.Match {
	rounds := make(map[int][]bracket.Match)
	for _, m := range matches {
		rounds[m.RoundNumber] = append(rounds[m.RoundNumber], m)
	}
	return rounds
}

func anyCompleted(matches []bracket.Match) bool {
	for _, m := range matches {
		if m.Status == bracket.MatchCompleted {
			return true
		}
	}
	return false
}

// passRegistry keeps the reconciliation pass in flight per tournament.
type passRegistry struct {
	mu     sync.Mutex
	seq    uint64
	active map[uuid.UUID]activePass
}

type activePass struct {
	id     uint64
	cancel context.CancelCauseFunc
}

func newPassRegistry() *passRegistry {
	return &passRegistry{active: make(map[uuid.UUID]activePass)}
}

func (r *passRegistry) begin(ctx context.Context, tournamentID uuid.UUID) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	r.mu.Lock()
	if prev, ok := r.active[tournamentID]; ok {
		prev.cancel(ErrReconcileSuperseded)
	}
	r.seq++
	id := r.seq
	r.active[tournamentID] = activePass{id: id, cancel: cancel}
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if cur, ok := r.active[tournamentID]; ok && cur.id == id {
			delete(r.active, tournamentID)
		}
		r.mu.Unlock()
		cancel(nil)
	}
}
