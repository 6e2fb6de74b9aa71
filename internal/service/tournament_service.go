package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/store"
	"github.com/AdamBeresnev/bracket-engine/internal/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidInput = errors.New("invalid input")

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed id %q", ErrInvalidInput, s)
	}
	return id, nil
}

type TournamentService struct {
	store  *store.TournamentStore
	logger *slog.Logger
}

func NewTournamentService(store *store.TournamentStore, logger *slog.Logger) *TournamentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TournamentService{store: store, logger: logger}
}

type TournamentInput struct {
	Name            string `json:"name"`
	Capacity        int    `json:"capacity"`
	Layout          string `json:"layout"`
	Materialization string `json:"materialization"`
	Seeding         string `json:"seeding"`
}

type ParticipantInput struct {
	DisplayName   string  `json:"display_name"`
	Rating        float64 `json:"rating"`
	IsPlaceholder bool    `json:"is_placeholder"`
}

// TournamentData is everything needed to render a bracket.
type TournamentData struct {
	Tournament   *bracket.Tournament   `json:"tournament"`
	Participants []bracket.Participant `json:"participants"`
	Matches      []bracket.Match       `json:"matches"`
	Rounds       [][]bracket.Match     `json:"rounds"`
	Champion     *bracket.Participant  `json:"champion,omitempty"`
	NextMatchID  *uuid.UUID            `json:"next_match_id,omitempty"`
}

func (s *TournamentService) CreateTournament(ctx context.Context, input TournamentInput) (*bracket.Tournament, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: tournament name is required", ErrInvalidInput)
	}

	layout, ok := bracket.ParseLayout(input.Layout)
	if !ok {
		return nil, &bracket.MatchError{Kind: bracket.ErrInvalidCapacity, Detail: fmt.Sprintf("unknown layout %q", input.Layout)}
	}
	materialization, ok := bracket.ParseMaterialization(input.Materialization)
	if !ok {
		return nil, fmt.Errorf("%w: unknown materialization %q", ErrInvalidInput, input.Materialization)
	}
	seeding, ok := bracket.ParseSeedingMode(input.Seeding)
	if !ok {
		return nil, fmt.Errorf("%w: unknown seeding mode %q", ErrInvalidInput, input.Seeding)
	}

	if _, err := bracket.NewTopology(input.Capacity, layout); err != nil {
		return nil, err
	}

	tournament := &bracket.Tournament{
		ID:              uuid.New(),
		Name:            name,
		Capacity:        input.Capacity,
		Type:            bracket.SingleElimination,
		Layout:          layout,
		Materialization: materialization,
		Seeding:         seeding,
		Status:          bracket.TournamentDraft,
	}
	if err := s.store.CreateTournament(ctx, tournament); err != nil {
		return nil, err
	}

	s.logger.Info("tournament created", "tournament_id", tournament.ID, "capacity", tournament.Capacity,
		"layout", layout, "materialization", materialization, "seeding", seeding)
	return s.store.GetTournament(ctx, tournament.ID)
}

// RegisterParticipant adds a participant while the tournament is still a draft
// and below capacity.
func (s *TournamentService) RegisterParticipant(ctx context.Context, tournamentID uuid.UUID, input ParticipantInput) (*bracket.Participant, error) {
	name := strings.TrimSpace(input.DisplayName)
	if name == "" && !input.IsPlaceholder {
		return nil, fmt.Errorf("%w: participant display name is required", ErrInvalidInput)
	}

	tournament, err := s.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.Status != bracket.TournamentDraft {
		return nil, fmt.Errorf("%w: tournament is %s", bracket.ErrRegistrationClosed, tournament.Status)
	}

	count, err := s.store.CountParticipants(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if count >= tournament.Capacity {
		return nil, fmt.Errorf("%w: %d of %d places taken", bracket.ErrTournamentFull, count, tournament.Capacity)
	}

	participant := &bracket.Participant{
		ID:            uuid.New(),
		TournamentID:  tournamentID,
		DisplayName:   name,
		Rating:        input.Rating,
		IsPlaceholder: input.IsPlaceholder,
	}
	if err := s.store.CreateParticipant(ctx, participant); err != nil {
		return nil, err
	}

	s.logger.Info("participant registered", "tournament_id", tournamentID, "participant_id", participant.ID,
		"registration_order", participant.RegistrationOrder)
	return participant, nil
}

func (s *TournamentService) ListTournaments(ctx context.Context, statuses ...bracket.TournamentStatus) ([]bracket.Tournament, error) {
	return s.store.ListTournaments(ctx, statuses...)
}

func (s *TournamentService) GetTournamentData(ctx context.Context, id uuid.UUID) (*TournamentData, error) {
	var (
		tournament   *bracket.Tournament
		participants []bracket.Participant
		matches      []bracket.Match
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tournament, err = s.store.GetTournament(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		participants, err = s.store.GetParticipants(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		matches, err = s.store.GetMatches(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := &TournamentData{
		Tournament:   tournament,
		Participants: participants,
		Matches:      matches,
		Rounds:       groupRounds(matches),
	}

	for _, m := range matches {
		if m.Status == bracket.MatchReady {
			data.NextMatchID = utils.Ptr(m.ID)
			break
		}
	}

	if tournament.Status == bracket.TournamentCompleted {
		data.Champion = champion(tournament, participants, matches)
	}
	return data, nil
}

// groupRounds returns the matches per round, each round ordered by slot index.
func groupRounds(matches []bracket.Match) [][]bracket.Match {
	byRound := groupByRound(matches)
	roundNums := make([]int, 0, len(byRound))
	for r := range byRound {
		roundNums = append(roundNums, r)
	}
	sort.Ints(roundNums)

	rounds := make([][]bracket.Match, 0, len(roundNums))
	for _, r := range roundNums {
		round := byRound[r]
		sort.Slice(round, func(i, j int) bool {
			return round[i].SlotIndex < round[j].SlotIndex
		})
		rounds = append(rounds, round)
	}
	return rounds
}

func champion(t *bracket.Tournament, participants []bracket.Participant, matches []bracket.Match) *bracket.Participant {
	var winnerID *uuid.UUID

	topo, err := t.Topology()
	if err != nil {
		return nil
	}
	if topo.Rounds() == 0 {
		// Capacity 1: the lone registrant wins
		if len(participants) == 1 && !participants[0].IsPlaceholder {
			return &participants[0]
		}
		return nil
	}

	for _, m := range matches {
		if topo.IsFinal(m.RoundNumber) && m.Status == bracket.MatchCompleted {
			winnerID = m.WinnerParticipantID
		}
	}
	if winnerID == nil {
		return nil
	}
	for i := range participants {
		if participants[i].ID == *winnerID {
			return &participants[i]
		}
	}
	return nil
}
