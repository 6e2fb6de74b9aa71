package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/httputil"
	"github.com/AdamBeresnev/bracket-engine/internal/live"
	"github.com/AdamBeresnev/bracket-engine/internal/metrics"
	"github.com/AdamBeresnev/bracket-engine/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type server struct {
	db          *sqlx.DB
	tournaments *service.TournamentService
	matches     *service.MatchService
	engine      *service.BracketService
	hub         *live.Hub
	metrics     *metrics.Recorder
}

type buildRequest struct {
	Capacity *int `json:"capacity"`
}

type resultRequest struct {
	WinnerID string `json:"winner_id"`
}

type slotRequest struct {
	ParticipantID *string `json:"participant_id"`
	Placeholder   bool    `json:"placeholder"`
}

func newRouter(srv *server, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := srv.db.PingContext(r.Context()); err != nil {
			httputil.ServiceUnavailable(w, "Database unreachable", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", srv.metrics.Handler())

	r.Route("/tournaments", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var input service.TournamentInput
			if !decode(w, r, &input) {
				return
			}
			tournament, err := srv.tournaments.CreateTournament(r.Context(), input)
			if err != nil {
				httputil.Error(w, "Failed to create tournament", err, service.ErrInvalidInput)
				return
			}
			w.Header().Set("Location", fmt.Sprintf("/tournaments/%s", tournament.ID))
			httputil.WriteJSON(w, http.StatusCreated, tournament)
		})

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			var statuses []bracket.TournamentStatus
			for _, s := range r.URL.Query()["status"] {
				statuses = append(statuses, bracket.TournamentStatus(s))
			}
			tournaments, err := srv.tournaments.ListTournaments(r.Context(), statuses...)
			if err != nil {
				httputil.InternalServerError(w, "Failed to list tournaments", err)
				return
			}
			httputil.WriteJSON(w, http.StatusOK, tournaments)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				id, ok := pathID(w, r, "id", "Invalid tournament ID")
				if !ok {
					return
				}
				data, err := srv.tournaments.GetTournamentData(r.Context(), id)
				if err != nil {
					httputil.Error(w, "Failed to get tournament", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, data)
			})

			r.Post("/participants", func(w http.ResponseWriter, r *http.Request) {
				id, ok := pathID(w, r, "id", "Invalid tournament ID")
				if !ok {
					return
				}
				var input service.ParticipantInput
				if !decode(w, r, &input) {
					return
				}
				participant, err := srv.tournaments.RegisterParticipant(r.Context(), id, input)
				if err != nil {
					httputil.Error(w, "Failed to register participant", err, service.ErrInvalidInput)
					return
				}
				httputil.WriteJSON(w, http.StatusCreated, participant)
			})

			r.Post("/bracket", func(w http.ResponseWriter, r *http.Request) {
				id, ok := pathID(w, r, "id", "Invalid tournament ID")
				if !ok {
					return
				}
				var req buildRequest
				if !decode(w, r, &req) {
					return
				}
				capacity := 0
				if req.Capacity != nil {
					capacity = *req.Capacity
				} else {
					// Without a capacity the bracket is built at the size chosen on creation
					data, err := srv.tournaments.GetTournamentData(r.Context(), id)
					if err != nil {
						httputil.Error(w, "Failed to get tournament", err)
						return
					}
					capacity = data.Tournament.Capacity
				}
				res, err := srv.engine.BuildBracket(r.Context(), id, capacity)
				if err != nil {
					httputil.Error(w, "Failed to build bracket", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, res)
			})

			r.Post("/rounds/{round}", func(w http.ResponseWriter, r *http.Request) {
				id, ok := pathID(w, r, "id", "Invalid tournament ID")
				if !ok {
					return
				}
				round, err := strconv.Atoi(chi.URLParam(r, "round"))
				if err != nil {
					httputil.BadRequest(w, "Invalid round number", err)
					return
				}
				res, err := srv.engine.MaterializeRound(r.Context(), id, round)
				if err != nil {
					httputil.Error(w, "Failed to materialize round", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, res)
			})

			r.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
				id, ok := pathID(w, r, "id", "Invalid tournament ID")
				if !ok {
					return
				}
				res, err := srv.engine.Reconcile(r.Context(), id)
				if err != nil {
					reconcileError(w, err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, res)
			})

			r.Get("/live", func(w http.ResponseWriter, r *http.Request) {
				id, ok := pathID(w, r, "id", "Invalid tournament ID")
				if !ok {
					return
				}
				srv.hub.ServeWS(w, r, id)
			})
		})
	})

	r.Route("/matches/{id}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			data, err := srv.matches.GetMatchViewData(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				httputil.Error(w, "Failed to get match", err, service.ErrInvalidInput)
				return
			}
			httputil.WriteJSON(w, http.StatusOK, data)
		})

		r.Post("/result", func(w http.ResponseWriter, r *http.Request) {
			matchID, ok := pathID(w, r, "id", "Invalid match ID")
			if !ok {
				return
			}
			var req resultRequest
			if !decode(w, r, &req) {
				return
			}
			winnerID, err := uuid.Parse(req.WinnerID)
			if err != nil {
				httputil.BadRequest(w, "Invalid winner ID", err)
				return
			}
			res, err := srv.engine.ReportResult(r.Context(), matchID, winnerID)
			if err != nil {
				httputil.Error(w, "Failed to report result", err)
				return
			}
			httputil.WriteJSON(w, http.StatusOK, res)
		})

		r.Put("/slots/{slot}", func(w http.ResponseWriter, r *http.Request) {
			matchID, ok := pathID(w, r, "id", "Invalid match ID")
			if !ok {
				return
			}
			slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
			if err != nil {
				httputil.BadRequest(w, "Invalid slot", err)
				return
			}
			var req slotRequest
			if !decode(w, r, &req) {
				return
			}

			var occupant bracket.Occupant
			switch {
			case req.Placeholder && req.ParticipantID != nil:
				httputil.BadRequest(w, "A slot holds either a participant or a placeholder", nil)
				return
			case req.Placeholder:
				occupant = bracket.PlaceholderOccupant()
			case req.ParticipantID != nil:
				participantID, err := uuid.Parse(*req.ParticipantID)
				if err != nil {
					httputil.BadRequest(w, "Invalid participant ID", err)
					return
				}
				occupant = bracket.ParticipantOccupant(participantID)
			}

			res, err := srv.engine.AssignSlot(r.Context(), matchID, slot, occupant)
			if err != nil {
				httputil.Error(w, "Failed to assign slot", err)
				return
			}
			httputil.WriteJSON(w, http.StatusOK, res)
		})
	})

	return r
}

// reconcileError answers a failed manual pass. Losing to a newer pass is a
// conflict the caller can retry, not a server fault.
func reconcileError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrReconcileSuperseded) {
		httputil.Conflict(w, "Reconciliation superseded by a newer pass", err)
		return
	}
	httputil.Error(w, "Failed to reconcile tournament", err)
}

func pathID(w http.ResponseWriter, r *http.Request, param, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httputil.BadRequest(w, msg, err)
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return false
	}
	return true
}
