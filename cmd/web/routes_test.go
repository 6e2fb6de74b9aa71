package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/config"
	"github.com/AdamBeresnev/bracket-engine/internal/db"
	"github.com/AdamBeresnev/bracket-engine/internal/service"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *app {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	_, err = database.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(database.DB, db.DriverSQLite), "Failed to apply migrations")

	cfg := config.Config{
		Server: config.ServerConfig{CORSAllowedOrigins: []string{"*"}},
		Engine: config.EngineConfig{
			RetryMaxAttempts:     2,
			RetryInitialInterval: time.Millisecond,
			RetryMaxInterval:     time.Millisecond,
			ReconcileAfterWrite:  true,
			ColdStartWorkers:     2,
		},
	}
	return newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), database)
}

type apiClient struct {
	t      *testing.T
	router http.Handler
}

func newAPIClient(t *testing.T, a *app) *apiClient {
	return &apiClient{t: t, router: newRouter(a.server(), a.cfg.Server.CORSAllowedOrigins)}
}

func (c *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func (c *apiClient) decode(rec *httptest.ResponseRecorder, status int, v any) {
	c.t.Helper()

	require.Equal(c.t, status, rec.Code, rec.Body.String())
	if v != nil {
		require.NoError(c.t, json.NewDecoder(rec.Body).Decode(v))
	}
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Message
}

func TestRoutes_FullTournament(t *testing.T) {
	a := setupTestApp(t)
	c := newAPIClient(t, a)

	var tournament bracket.Tournament
	rec := c.do(http.MethodPost, "/tournaments", service.TournamentInput{Name: "Spring Cup", Capacity: 4})
	c.decode(rec, http.StatusCreated, &tournament)
	assert.Equal(t, "/tournaments/"+tournament.ID.String(), rec.Header().Get("Location"))

	var participants []bracket.Participant
	for i, name := range []string{"Ana", "Ben", "Cleo", "Dan"} {
		var p bracket.Participant
		rec := c.do(http.MethodPost, fmt.Sprintf("/tournaments/%s/participants", tournament.ID), service.ParticipantInput{DisplayName: name, Rating: float64(i + 1)})
		c.decode(rec, http.StatusCreated, &p)
		participants = append(participants, p)
	}

	// No capacity in the body builds at the size chosen on creation
	var built service.Result
	c.decode(c.do(http.MethodPost, fmt.Sprintf("/tournaments/%s/bracket", tournament.ID), nil), http.StatusOK, &built)
	assert.Len(t, built.Touched, 2)

	var data service.TournamentData
	c.decode(c.do(http.MethodGet, "/tournaments/"+tournament.ID.String(), nil), http.StatusOK, &data)
	require.Len(t, data.Rounds, 1)
	require.NotNil(t, data.NextMatchID)
	semi1, semi2 := data.Rounds[0][0], data.Rounds[0][1]
	assert.Equal(t, participants[0].ID, *semi1.Slot1ParticipantID)
	assert.Equal(t, participants[3].ID, *semi1.Slot2ParticipantID)

	var res service.Result
	c.decode(c.do(http.MethodPost, fmt.Sprintf("/matches/%s/result", semi1.ID), map[string]string{"winner_id": participants[0].ID.String()}), http.StatusOK, &res)
	c.decode(c.do(http.MethodPost, fmt.Sprintf("/matches/%s/result", semi2.ID), map[string]string{"winner_id": participants[2].ID.String()}), http.StatusOK, &res)

	var match service.MatchData
	c.decode(c.do(http.MethodGet, "/matches/"+semi1.ID.String(), nil), http.StatusOK, &match)
	require.NotNil(t, match.Downstream)
	final := match.Downstream
	assert.Equal(t, bracket.MatchReady, final.Status)

	c.decode(c.do(http.MethodPost, fmt.Sprintf("/matches/%s/result", final.ID), map[string]string{"winner_id": participants[2].ID.String()}), http.StatusOK, &res)

	c.decode(c.do(http.MethodGet, "/tournaments/"+tournament.ID.String(), nil), http.StatusOK, &data)
	assert.Equal(t, bracket.TournamentCompleted, data.Tournament.Status)
	require.NotNil(t, data.Champion)
	assert.Equal(t, "Cleo", data.Champion.DisplayName)

	var completed []bracket.Tournament
	c.decode(c.do(http.MethodGet, "/tournaments?status=completed", nil), http.StatusOK, &completed)
	require.Len(t, completed, 1)
	assert.Equal(t, tournament.ID, completed[0].ID)
}

func TestRoutes_ErrorStatuses(t *testing.T) {
	a := setupTestApp(t)
	c := newAPIClient(t, a)

	var tournament bracket.Tournament
	c.decode(c.do(http.MethodPost, "/tournaments", service.TournamentInput{Name: "Cup", Capacity: 4, Materialization: "eager"}), http.StatusCreated, &tournament)
	base := "/tournaments/" + tournament.ID.String()

	var entrants []bracket.Participant
	for i, name := range []string{"A", "B", "C", "D"} {
		var p bracket.Participant
		c.decode(c.do(http.MethodPost, base+"/participants", service.ParticipantInput{DisplayName: name, Rating: float64(i + 1)}), http.StatusCreated, &p)
		entrants = append(entrants, p)
	}
	c.decode(c.do(http.MethodPost, base+"/bracket", map[string]int{"capacity": 4}), http.StatusOK, nil)

	var data service.TournamentData
	c.decode(c.do(http.MethodGet, base, nil), http.StatusOK, &data)
	require.Len(t, data.Rounds, 2)
	semi1, semi2, final := data.Rounds[0][0], data.Rounds[0][1], data.Rounds[1][0]

	// The final now holds A on one side only
	c.decode(c.do(http.MethodPost, "/matches/"+semi1.ID.String()+"/result", map[string]string{"winner_id": entrants[0].ID.String()}), http.StatusOK, nil)

	testCases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   error
	}{
		{name: "malformed tournament id", method: http.MethodGet, path: "/tournaments/nope", status: http.StatusBadRequest},
		{name: "unknown tournament", method: http.MethodGet, path: "/tournaments/00000000-0000-0000-0000-000000000001", status: http.StatusNotFound, kind: bracket.ErrNotFound},
		{name: "blank name", method: http.MethodPost, path: "/tournaments", body: service.TournamentInput{Capacity: 4}, status: http.StatusBadRequest, kind: service.ErrInvalidInput},
		{name: "zero capacity", method: http.MethodPost, path: "/tournaments", body: service.TournamentInput{Name: "X"}, status: http.StatusBadRequest, kind: bracket.ErrInvalidCapacity},
		{name: "unknown body field", method: http.MethodPost, path: "/tournaments", body: map[string]any{"name": "X", "capacity": 2, "format": "swiss"}, status: http.StatusBadRequest},
		{name: "registration closed", method: http.MethodPost, path: base + "/participants", body: service.ParticipantInput{DisplayName: "C"}, status: http.StatusConflict, kind: bracket.ErrRegistrationClosed},
		{name: "winner not in match", method: http.MethodPost, path: "/matches/" + semi2.ID.String() + "/result", body: map[string]string{"winner_id": entrants[0].ID.String()}, status: http.StatusBadRequest, kind: bracket.ErrInvalidWinner},
		{name: "malformed winner", method: http.MethodPost, path: "/matches/" + semi2.ID.String() + "/result", body: map[string]string{"winner_id": "x"}, status: http.StatusBadRequest},
		{name: "final not ready", method: http.MethodPost, path: "/matches/" + final.ID.String() + "/result", body: map[string]string{"winner_id": entrants[0].ID.String()}, status: http.StatusConflict, kind: bracket.ErrMatchNotReady},
		{name: "slot out of range", method: http.MethodPut, path: "/matches/" + final.ID.String() + "/slots/3", body: map[string]any{"placeholder": true}, status: http.StatusBadRequest, kind: bracket.ErrInvalidSlot},
		{name: "slot conflict", method: http.MethodPut, path: "/matches/" + semi2.ID.String() + "/slots/1", body: map[string]any{"participant_id": entrants[0].ID.String()}, status: http.StatusConflict, kind: bracket.ErrSlotConflict},
		{name: "participant and placeholder", method: http.MethodPut, path: "/matches/" + final.ID.String() + "/slots/1", body: map[string]any{"participant_id": entrants[0].ID.String(), "placeholder": true}, status: http.StatusBadRequest},
		{name: "round past the final", method: http.MethodPost, path: base + "/rounds/9", status: http.StatusBadRequest, kind: bracket.ErrInvalidRound},
		{name: "round not a number", method: http.MethodPost, path: base + "/rounds/last", status: http.StatusBadRequest},
		{name: "malformed match id", method: http.MethodGet, path: "/matches/nope", status: http.StatusBadRequest, kind: service.ErrInvalidInput},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := c.do(tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tc.kind != nil {
				assert.Contains(t, errorKind(t, rec), tc.kind.Error())
			}
		})
	}
}

func TestRoutes_ReconcileAndRounds(t *testing.T) {
	a := setupTestApp(t)
	c := newAPIClient(t, a)

	var tournament bracket.Tournament
	c.decode(c.do(http.MethodPost, "/tournaments", service.TournamentInput{Name: "Cup", Capacity: 8}), http.StatusCreated, &tournament)
	base := "/tournaments/" + tournament.ID.String()
	for i := 0; i < 8; i++ {
		c.decode(c.do(http.MethodPost, base+"/participants", service.ParticipantInput{DisplayName: fmt.Sprintf("P%d", i+1), Rating: float64(i + 1)}), http.StatusCreated, nil)
	}
	c.decode(c.do(http.MethodPost, base+"/bracket", map[string]int{"capacity": 8}), http.StatusOK, nil)

	var res service.Result
	c.decode(c.do(http.MethodPost, base+"/rounds/3", nil), http.StatusOK, &res)
	assert.NotEmpty(t, res.Touched)

	// Asking again writes nothing
	c.decode(c.do(http.MethodPost, base+"/rounds/3", nil), http.StatusOK, &res)
	assert.Empty(t, res.Touched)

	c.decode(c.do(http.MethodPost, base+"/reconcile", nil), http.StatusOK, &res)
	assert.Zero(t, res.Repairs)

	var data service.TournamentData
	c.decode(c.do(http.MethodGet, base, nil), http.StatusOK, &data)
	assert.Len(t, data.Matches, 7)
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	a := setupTestApp(t)
	c := newAPIClient(t, a)

	var health map[string]string
	c.decode(c.do(http.MethodGet, "/healthz", nil), http.StatusOK, &health)
	assert.Equal(t, "ok", health["status"])

	var tournament bracket.Tournament
	c.decode(c.do(http.MethodPost, "/tournaments", service.TournamentInput{Name: "Solo", Capacity: 2}), http.StatusCreated, &tournament)
	c.decode(c.do(http.MethodPost, "/tournaments/"+tournament.ID.String()+"/participants", service.ParticipantInput{DisplayName: "Only"}), http.StatusCreated, nil)
	c.decode(c.do(http.MethodPost, "/tournaments/"+tournament.ID.String()+"/bracket", nil), http.StatusOK, nil)

	rec := c.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bracket_byes_resolved_total 1")
}

func TestRoutes_CORSPreflight(t *testing.T) {
	a := setupTestApp(t)
	router := newRouter(a.server(), []string{"https://brackets.example"})

	req := httptest.NewRequest(http.MethodOptions, "/tournaments", nil)
	req.Header.Set("Origin", "https://brackets.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://brackets.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestColdStart_ReconcilesStartedTournaments(t *testing.T) {
	a := setupTestApp(t)
	c := newAPIClient(t, a)

	var tournament bracket.Tournament
	c.decode(c.do(http.MethodPost, "/tournaments", service.TournamentInput{Name: "Cup", Capacity: 4}), http.StatusCreated, &tournament)
	for _, name := range []string{"A", "B", "C"} {
		c.decode(c.do(http.MethodPost, "/tournaments/"+tournament.ID.String()+"/participants", service.ParticipantInput{DisplayName: name}), http.StatusCreated, nil)
	}

	// Started without a bracket, as if the process died mid-build
	_, err := a.db.Exec("UPDATE tournaments SET status = 'started' WHERE id = ?", tournament.ID)
	require.NoError(t, err)

	require.NoError(t, a.coldStart(t.Context()))

	var data service.TournamentData
	c.decode(c.do(http.MethodGet, "/tournaments/"+tournament.ID.String(), nil), http.StatusOK, &data)
	assert.NotEmpty(t, data.Matches)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://a.example"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://a.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://b.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}

func TestTopologyCommand(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want []string
	}{
		{name: "compact", args: []string{"topology", "5"}, want: []string{"3 matches", "round 3: 1 matches (final)"}},
		{name: "power of two", args: []string{"topology", "5", "--layout", "power_of_two"}, want: []string{"8 slots", "round 1: 4 matches"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRootCommand()
			cmd.SetOut(&out)
			cmd.SetArgs(tc.args)
			require.NoError(t, cmd.Execute())
			for _, w := range tc.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}

	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"topology", "0"})
	assert.Error(t, cmd.Execute())

	var out bytes.Buffer
	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"topology", "4", "--json"})
	require.NoError(t, cmd.Execute())
	var shape topologyOutput
	require.NoError(t, json.NewDecoder(strings.NewReader(out.String())).Decode(&shape))
	assert.Equal(t, 3, shape.Total)
	assert.Len(t, shape.Rounds, 2)
}

func TestReconcileError(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "superseded by a newer pass", err: fmt.Errorf("get_matches: %w", service.ErrReconcileSuperseded), status: http.StatusConflict},
		{name: "inconsistent structure", err: &bracket.MatchError{Kind: bracket.ErrStructuralInconsistency}, status: http.StatusConflict},
		{name: "store down", err: fmt.Errorf("%w: get_matches failed", bracket.ErrStoreUnavailable), status: http.StatusServiceUnavailable},
		{name: "unexpected", err: io.ErrUnexpectedEOF, status: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			reconcileError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	reconcileError(rec, service.ErrReconcileSuperseded)
	assert.Contains(t, errorKind(t, rec), service.ErrReconcileSuperseded.Error())
}
