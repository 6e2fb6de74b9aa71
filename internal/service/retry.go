package service

import (
	"context"
	"fmt"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	defaultRetryAttempts   = 3
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// RetryPolicy bounds how often a transient store failure is retried before
// the call surfaces as ErrStoreUnavailable.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      defaultRetryAttempts,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// withRetry runs one store call under the retry policy. Only transient errors
// are retried. Cancellation returns the context's cause, so a superseded
// reconciliation pass reports ErrReconcileSuperseded.
func withRetry[T any](ctx context.Context, s *BracketService, op string, fn func() (T, error)) (T, error) {
	attempts := 0
	v, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && !store.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, s.retry.backOff(ctx), func(err error, wait time.Duration) {
		s.metrics.StoreRetry(op)
		s.logger.Warn("store call retry", "op", op, "attempt", attempts, "wait", wait, "err", err)
	})
	if err == nil {
		return v, nil
	}

	var zero T
	if cause := context.Cause(ctx); cause != nil {
		return zero, cause
	}
	if store.IsTransient(err) {
		s.metrics.Rejection("store_unavailable")
		s.logger.Error("store call failed", "op", op, "attempts", attempts, "err", err)
		return zero, fmt.Errorf("%w: %s failed after %d attempts: %w", bracket.ErrStoreUnavailable, op, attempts, err)
	}
	return zero, err
}

func withRetryErr(ctx context.Context, s *BracketService, op string, fn func() error) error {
	_, err := withRetry(ctx, s, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (s *BracketService) getTournament(ctx context.Context, id uuid.UUID) (*bracket.Tournament, error) {
	return withRetry(ctx, s, "get_tournament", func() (*bracket.Tournament, error) {
		return s.store.GetTournament(ctx, id)
	})
}

func (s *BracketService) updateTournamentStatus(ctx context.Context, id uuid.UUID, from, to bracket.TournamentStatus) (bool, error) {
	return withRetry(ctx, s, "update_tournament_status", func() (bool, error) {
		return s.store.UpdateTournamentStatus(ctx, id, from, to)
	})
}

func (s *BracketService) updateCapacity(ctx context.Context, id uuid.UUID, capacity int) error {
	return withRetryErr(ctx, s, "update_tournament_capacity", func() error {
		return s.store.UpdateTournamentCapacity(ctx, id, capacity)
	})
}

func (s *BracketService) getParticipant(ctx context.Context, id uuid.UUID) (*bracket.Participant, error) {
	return withRetry(ctx, s, "get_participant", func() (*bracket.Participant, error) {
		return s.store.GetParticipant(ctx, id)
	})
}

func (s *BracketService) getParticipants(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Participant, error) {
	return withRetry(ctx, s, "get_participants", func() ([]bracket.Participant, error) {
		return s.store.GetParticipants(ctx, tournamentID)
	})
}

func (s *BracketService) countParticipants(ctx context.Context, tournamentID uuid.UUID) (int, error) {
	return withRetry(ctx, s, "count_participants", func() (int, error) {
		return s.store.CountParticipants(ctx, tournamentID)
	})
}

func (s *BracketService) createMatches(ctx context.Context, matches []bracket.Match) error {
	return withRetryErr(ctx, s, "create_matches", func() error {
		return s.store.CreateMatches(ctx, matches)
	})
}

func (s *BracketService) getMatch(ctx context.Context, id uuid.UUID) (*bracket.Match, error) {
	return withRetry(ctx, s, "get_match", func() (*bracket.Match, error) {
		return s.store.GetMatch(ctx, id)
	})
}

func (s *BracketService) getMatches(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Match, error) {
	return withRetry(ctx, s, "get_matches", func() ([]bracket.Match, error) {
		return s.store.GetMatches(ctx, tournamentID)
	})
}

func (s *BracketService) getRound(ctx context.Context, tournamentID uuid.UUID, round int) ([]bracket.Match, error) {
	return withRetry(ctx, s, "get_round", func() ([]bracket.Match, error) {
		return s.store.GetRound(ctx, tournamentID, round)
	})
}

func (s *BracketService) getMatchAt(ctx context.Context, tournamentID uuid.UUID, round, slotIndex int) (*bracket.Match, error) {
	return withRetry(ctx, s, "get_match_at", func() (*bracket.Match, error) {
		return s.store.GetMatchAt(ctx, tournamentID, round, slotIndex)
	})
}

func (s *BracketService) deleteMatches(ctx context.Context, tournamentID uuid.UUID) (int64, error) {
	return withRetry(ctx, s, "delete_matches", func() (int64, error) {
		return s.store.DeleteMatches(ctx, tournamentID)
	})
}

func (s *BracketService) fillSlot(ctx context.Context, matchID uuid.UUID, position int, occupant bracket.Occupant) (bool, error) {
	return withRetry(ctx, s, "fill_slot", func() (bool, error) {
		return s.store.FillSlot(ctx, matchID, position, occupant)
	})
}

func (s *BracketService) setFeedsFrom(ctx context.Context, matchID uuid.UUID, position int, upstreamID uuid.UUID) (bool, error) {
	return withRetry(ctx, s, "set_feeds_from", func() (bool, error) {
		return s.store.SetFeedsFrom(ctx, matchID, position, upstreamID)
	})
}

func (s *BracketService) setFeedsTo(ctx context.Context, matchID, downstreamID uuid.UUID, position int) (bool, error) {
	return withRetry(ctx, s, "set_feeds_to", func() (bool, error) {
		return s.store.SetFeedsTo(ctx, matchID, downstreamID, position)
	})
}

func (s *BracketService) setStatus(ctx context.Context, matchID uuid.UUID, from, to bracket.MatchStatus) (bool, error) {
	return withRetry(ctx, s, "set_status", func() (bool, error) {
		return s.store.SetStatus(ctx, matchID, from, to)
	})
}

func (s *BracketService) completeMatch(ctx context.Context, matchID uuid.UUID, winner *uuid.UUID, isBye bool) (bool, error) {
	return withRetry(ctx, s, "complete_match", func() (bool, error) {
		return s.store.CompleteMatch(ctx, matchID, winner, isBye)
	})
}
