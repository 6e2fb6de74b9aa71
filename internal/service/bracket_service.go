package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/metrics"
	"github.com/google/uuid"
)

// BracketStore is the persistent match store the engine reads and writes.
// Writes are compare-and-set and report whether the row changed.
type BracketStore interface {
	GetTournament(ctx context.Context, id uuid.UUID) (*bracket.Tournament, error)
	UpdateTournamentStatus(ctx context.Context, id uuid.UUID, from, to bracket.TournamentStatus) (bool, error)
	UpdateTournamentCapacity(ctx context.Context, id uuid.UUID, capacity int) error

	GetParticipant(ctx context.Context, id uuid.UUID) (*bracket.Participant, error)
	GetParticipants(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Participant, error)
	CountParticipants(ctx context.Context, tournamentID uuid.UUID) (int, error)

	CreateMatches(ctx context.Context, matches []bracket.Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*bracket.Match, error)
	GetMatches(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Match, error)
	GetRound(ctx context.Context, tournamentID uuid.UUID, round int) ([]bracket.Match, error)
	GetMatchAt(ctx context.Context, tournamentID uuid.UUID, round, slotIndex int) (*bracket.Match, error)
	DeleteMatches(ctx context.Context, tournamentID uuid.UUID) (int64, error)

	FillSlot(ctx context.Context, matchID uuid.UUID, position int, occupant bracket.Occupant) (bool, error)
	SetFeedsFrom(ctx context.Context, matchID uuid.UUID, position int, upstreamID uuid.UUID) (bool, error)
	SetFeedsTo(ctx context.Context, matchID, downstreamID uuid.UUID, position int) (bool, error)
	SetStatus(ctx context.Context, matchID uuid.UUID, from, to bracket.MatchStatus) (bool, error)
	CompleteMatch(ctx context.Context, matchID uuid.UUID, winner *uuid.UUID, isBye bool) (bool, error)
}

// Publisher receives the matches a command touched, e.g. to push them to
// connected bracket viewers.
type Publisher interface {
	Publish(tournamentID uuid.UUID, matches []bracket.Match)
}

type Config struct {
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Publisher Publisher
	Retry     RetryPolicy
	// Run a reconciliation pass after every command that writes
	ReconcileAfterWrite bool
}

type BracketService struct {
	store     BracketStore
	logger    *slog.Logger
	metrics   *metrics.Recorder
	publisher Publisher
	retry     RetryPolicy
	reconcile bool
	passes    *passRegistry
}

func NewBracketService(store BracketStore, cfg Config) *BracketService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}

	return &BracketService{
		store:     store,
		logger:    logger,
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
		retry:     retry,
		reconcile: cfg.ReconcileAfterWrite,
		passes:    newPassRegistry(),
	}
}

// Result is the outcome of a command: the current state of every match the
// command wrote to.
type Result struct {
	TournamentID uuid.UUID       `json:"tournament_id"`
	Touched      []bracket.Match `json:"touched"`
	Repairs      int             `json:"repairs"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// pass carries the state of one logical command through the engine.
type pass struct {
	tournament *bracket.Tournament
	topo       bracket.Topology
	touched    map[uuid.UUID]struct{}
	repairs    int
}

func newPass(t *bracket.Tournament, topo bracket.Topology) *pass {
	return &pass{tournament: t, topo: topo, touched: make(map[uuid.UUID]struct{})}
}

func (p *pass) touch(ids ...uuid.UUID) {
	for _, id := range ids {
		p.touched[id] = struct{}{}
	}
}

func (s *BracketService) begin(ctx context.Context, tournamentID uuid.UUID) (*pass, error) {
	t, err := s.getTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	topo, err := t.Topology()
	if err != nil {
		return nil, err
	}
	return newPass(t, topo), nil
}

// BuildBracket closes registration, fixes the capacity and materializes the
// bracket. A different capacity than the stored one discards every match
// record and rebuilds from scratch. Building again with the same capacity only
// fills in what is missing.
func (s *BracketService) BuildBracket(ctx context.Context, tournamentID uuid.UUID, capacity int) (*Result, error) {
	if capacity <= 0 {
		s.metrics.Rejection("invalid_capacity")
		return nil, &bracket.MatchError{Kind: bracket.ErrInvalidCapacity, Detail: fmt.Sprintf("capacity %d must be positive", capacity)}
	}

	t, err := s.getTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	registered, err := s.countParticipants(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if registered > capacity {
		s.metrics.Rejection("invalid_capacity")
		return nil, &bracket.MatchError{
			Kind:   bracket.ErrInvalidCapacity,
			Detail: fmt.Sprintf("capacity %d is below the %d registered participants", capacity, registered),
		}
	}

	if capacity != t.Capacity {
		deleted, err := s.deleteMatches(ctx, tournamentID)
		if err != nil {
			return nil, err
		}
		if err := s.updateCapacity(ctx, tournamentID, capacity); err != nil {
			return nil, err
		}
		if t.Status == bracket.TournamentCompleted {
			if _, err := s.updateTournamentStatus(ctx, tournamentID, bracket.TournamentCompleted, bracket.TournamentStarted); err != nil {
				return nil, err
			}
			t.Status = bracket.TournamentStarted
		}
		s.logger.Info("bracket discarded for capacity change",
			"tournament_id", tournamentID, "from", t.Capacity, "to", capacity, "deleted_matches", deleted)
		t.Capacity = capacity
	}

	topo, err := t.Topology()
	if err != nil {
		return nil, err
	}
	p := newPass(t, topo)

	if t.Status == bracket.TournamentDraft {
		if _, err := s.updateTournamentStatus(ctx, tournamentID, bracket.TournamentDraft, bracket.TournamentStarted); err != nil {
			return nil, err
		}
		t.Status = bracket.TournamentStarted
	}

	if topo.Rounds() == 0 {
		// A lone participant wins without playing
		if err := s.completeTournament(ctx, p); err != nil {
			return nil, err
		}
		return s.finish(ctx, p)
	}

	last := 1
	if t.Materialization == bracket.MaterializeEager {
		last = topo.Rounds()
	}
	for r := 1; r <= last; r++ {
		if err := s.materialize(ctx, p, r); err != nil {
			return nil, err
		}
	}

	s.logger.Info("bracket built", "tournament_id", tournamentID, "topology", topo.String())
	return s.finish(ctx, p)
}

// MaterializeRound creates the match records of a round, and of any earlier
// round still missing. Re-invoking it for an existing round changes nothing.
func (s *BracketService) MaterializeRound(ctx context.Context, tournamentID uuid.UUID, round int) (*Result, error) {
	p, err := s.begin(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if p.tournament.Status == bracket.TournamentDraft {
		return nil, &bracket.MatchError{Kind: bracket.ErrInvalidRound, Round: round, Detail: "bracket has not been built yet"}
	}
	if err := s.materialize(ctx, p, round); err != nil {
		return nil, err
	}
	return s.finish(ctx, p)
}

// ReportResult completes a ready match with the given winner and advances it.
func (s *BracketService) ReportResult(ctx context.Context, matchID, winnerID uuid.UUID) (*Result, error) {
	m, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	p, err := s.begin(ctx, m.TournamentID)
	if err != nil {
		return nil, err
	}
	if err := s.report(ctx, p, m, winnerID); err != nil {
		return nil, err
	}
	return s.finish(ctx, p)
}

// AssignSlot puts an occupant into an empty slot by hand. Assigning the same
// occupant again is a no-op, a different one is a conflict.
func (s *BracketService) AssignSlot(ctx context.Context, matchID uuid.UUID, slot int, occupant bracket.Occupant) (*Result, error) {
	if slot != 1 && slot != 2 {
		return nil, &bracket.MatchError{Kind: bracket.ErrInvalidSlot, MatchID: &matchID, Slot: slot, Detail: "slot must be 1 or 2"}
	}
	if occupant.IsEmpty() {
		return nil, &bracket.MatchError{Kind: bracket.ErrInvalidSlot, MatchID: &matchID, Slot: slot, Detail: "occupant must be a participant or a placeholder"}
	}

	m, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if occupant.ParticipantID != nil {
		participant, err := s.getParticipant(ctx, *occupant.ParticipantID)
		if err != nil {
			return nil, err
		}
		if participant.TournamentID != m.TournamentID {
			return nil, bracket.NewMatchError(bracket.ErrNotFound, m, slot, "participant %s is not registered in this tournament", participant.ID)
		}
		occupant = participant.Occupant()
	}

	p, err := s.begin(ctx, m.TournamentID)
	if err != nil {
		return nil, err
	}
	if err := s.fill(ctx, p, m, slot, occupant); err != nil {
		return nil, err
	}
	if err := s.refresh(ctx, p, m.ID); err != nil {
		return nil, err
	}
	return s.finish(ctx, p)
}

// finish runs the post-write reconciliation and gathers the touched matches.
// A failing reconciliation does not undo the command, it is reported as a warning.
func (s *BracketService) finish(ctx context.Context, p *pass) (*Result, error) {
	var warnings []string
	if s.reconcile {
		rctx, done := s.passes.begin(ctx, p.tournament.ID)
		err := s.reconcileTournament(rctx, p)
		done()
		if err != nil && !errors.Is(err, ErrReconcileSuperseded) {
			s.logger.Error("post-write reconciliation failed", "tournament_id", p.tournament.ID, "error", err)
			warnings = append(warnings, err.Error())
		}
	}

	res, err := s.collect(ctx, p)
	if err != nil {
		return nil, err
	}
	res.Warnings = warnings
	return res, nil
}

func (s *BracketService) collect(ctx context.Context, p *pass) (*Result, error) {
	res := &Result{TournamentID: p.tournament.ID, Touched: []bracket.Match{}, Repairs: p.repairs}
	if len(p.touched) == 0 {
		return res, nil
	}

	matches, err := s.getMatches(ctx, p.tournament.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if _, ok := p.touched[m.ID]; ok {
			res.Touched = append(res.Touched, m)
		}
	}

	if s.publisher != nil && len(res.Touched) > 0 {
		s.publisher.Publish(p.tournament.ID, res.Touched)
	}
	return res, nil
}

func (s *BracketService) completeTournament(ctx context.Context, p *pass) error {
	ok, err := s.updateTournamentStatus(ctx, p.tournament.ID, bracket.TournamentStarted, bracket.TournamentCompleted)
	if err != nil {
		return err
	}
	if ok {
		p.tournament.Status = bracket.TournamentCompleted
		s.logger.Info("tournament completed", "tournament_id", p.tournament.ID)
	}
	return nil
}
