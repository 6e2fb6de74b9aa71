package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/db"
	"github.com/AdamBeresnev/bracket-engine/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database and applies migrations
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")
	database.SetMaxOpenConns(1)

	_, err = database.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	require.NoError(t, db.RunMigrations(database.DB, db.DriverSQLite), "Failed to apply migrations")
	return database
}

func testConfig() Config {
	return Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Retry: RetryPolicy{
			MaxRetries:      3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
		ReconcileAfterWrite: true,
	}
}

type fixture struct {
	db          *sqlx.DB
	store       *store.TournamentStore
	tournaments *TournamentService
	engine      *BracketService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database := setupTestDB(t)
	t.Cleanup(func() { database.Close() })

	tournamentStore := store.NewTournamentStore(database)
	cfg := testConfig()
	return &fixture{
		db:          database,
		store:       tournamentStore,
		tournaments: NewTournamentService(tournamentStore, cfg.Logger),
		engine:      NewBracketService(tournamentStore, cfg),
	}
}

func (f *fixture) createTournament(t *testing.T, input TournamentInput) *bracket.Tournament {
	t.Helper()

	if input.Name == "" {
		input.Name = "Test Tournament"
	}
	tournament, err := f.tournaments.CreateTournament(context.Background(), input)
	require.NoError(t, err)
	return tournament
}

// register adds participants strongest first: the n-th name gets rating n.
func (f *fixture) register(t *testing.T, tournamentID uuid.UUID, names ...string) []bracket.Participant {
	t.Helper()

	participants := make([]bracket.Participant, 0, len(names))
	for i, name := range names {
		p, err := f.tournaments.RegisterParticipant(context.Background(), tournamentID, ParticipantInput{
			DisplayName: name,
			Rating:      float64(i + 1),
		})
		require.NoError(t, err)
		participants = append(participants, *p)
	}
	return participants
}

func (f *fixture) matchAt(t *testing.T, tournamentID uuid.UUID, round, slotIndex int) *bracket.Match {
	t.Helper()

	m, err := f.store.GetMatchAt(context.Background(), tournamentID, round, slotIndex)
	require.NoError(t, err, "round %d slot index %d", round, slotIndex)
	return m
}

func (f *fixture) matches(t *testing.T, tournamentID uuid.UUID) []bracket.Match {
	t.Helper()

	matches, err := f.store.GetMatches(context.Background(), tournamentID)
	require.NoError(t, err)
	return matches
}

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "Entry " + string(rune('A'+i))
	}
	return out
}

// requireLinksAgree checks that every link is stored on both ends.
func requireLinksAgree(t *testing.T, matches []bracket.Match) {
	t.Helper()

	byID := make(map[uuid.UUID]bracket.Match, len(matches))
	for _, m := range matches {
		byID[m.ID] = m
	}

	for _, m := range matches {
		if m.FeedsToID != nil {
			ds, ok := byID[*m.FeedsToID]
			require.True(t, ok, "match %d/%d feeds into a missing record", m.RoundNumber, m.SlotIndex)
			require.NotNil(t, m.FeedsToSlot)
			from := ds.FeedsFrom(*m.FeedsToSlot)
			require.NotNil(t, from, "back link missing on %d/%d", ds.RoundNumber, ds.SlotIndex)
			require.Equal(t, m.ID, *from)
		}
		for _, pos := range []int{1, 2} {
			from := m.FeedsFrom(pos)
			if from == nil {
				continue
			}
			up, ok := byID[*from]
			require.True(t, ok)
			require.NotNil(t, up.FeedsToID)
			require.Equal(t, m.ID, *up.FeedsToID)
			require.Equal(t, pos, *up.FeedsToSlot)
		}
	}
}

// faultyStore fails selected calls with err. A negative count fails forever.
type faultyStore struct {
	BracketStore

	mu    sync.Mutex
	err   error
	fails map[string]int
	calls map[string]int
}

func newFaultyStore(inner BracketStore, err error, fails map[string]int) *faultyStore {
	return &faultyStore{BracketStore: inner, err: err, fails: fails, calls: make(map[string]int)}
}

func (f *faultyStore) fault(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++
	n := f.fails[op]
	if n == 0 {
		return nil
	}
	if n > 0 {
		f.fails[op] = n - 1
	}
	return f.err
}

func (f *faultyStore) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultyStore) GetMatch(ctx context.Context, id uuid.UUID) (*bracket.Match, error) {
	if err := f.fault("GetMatch"); err != nil {
		return nil, err
	}
	return f.BracketStore.GetMatch(ctx, id)
}

func (f *faultyStore) SetFeedsTo(ctx context.Context, matchID, downstreamID uuid.UUID, position int) (bool, error) {
	if err := f.fault("SetFeedsTo"); err != nil {
		return false, err
	}
	return f.BracketStore.SetFeedsTo(ctx, matchID, downstreamID, position)
}

func (f *faultyStore) FillSlot(ctx context.Context, matchID uuid.UUID, position int, occupant bracket.Occupant) (bool, error) {
	if err := f.fault("FillSlot"); err != nil {
		return false, err
	}
	return f.BracketStore.FillSlot(ctx, matchID, position, occupant)
}

// blockingStore parks the first GetMatches call until its context ends.
type blockingStore struct {
	BracketStore

	once    sync.Once
	entered chan struct{}
}

func (b *blockingStore) GetMatches(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Match, error) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.BracketStore.GetMatches(ctx, tournamentID)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []bracket.Match
}

func (r *recordingPublisher) Publish(_ uuid.UUID, matches []bracket.Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, matches...)
}

func (r *recordingPublisher) ids() map[uuid.UUID]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uuid.UUID]bool, len(r.published))
	for _, m := range r.published {
		out[m.ID] = true
	}
	return out
}
