package service

import (
	"context"
	"fmt"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/store"
)

type MatchService struct {
	store *store.TournamentStore
}

func NewMatchService(store *store.TournamentStore) *MatchService {
	return &MatchService{store: store}
}

type MatchData struct {
	Match        *bracket.Match       `json:"match"`
	Participant1 *bracket.Participant `json:"participant1,omitempty"`
	Participant2 *bracket.Participant `json:"participant2,omitempty"`
	Downstream   *bracket.Match       `json:"downstream,omitempty"`
}

func (s *MatchService) GetMatchViewData(ctx context.Context, matchID string) (*MatchData, error) {
	id, err := parseID(matchID)
	if err != nil {
		return nil, err
	}

	match, err := s.store.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}

	data := &MatchData{Match: match}
	if match.Slot1ParticipantID != nil {
		p, err := s.store.GetParticipant(ctx, *match.Slot1ParticipantID)
		if err != nil {
			return nil, fmt.Errorf("failed to get participant 1: %w", err)
		}
		data.Participant1 = p
	}
	if match.Slot2ParticipantID != nil {
		p, err := s.store.GetParticipant(ctx, *match.Slot2ParticipantID)
		if err != nil {
			return nil, fmt.Errorf("failed to get participant 2: %w", err)
		}
		data.Participant2 = p
	}

	if match.FeedsToID != nil {
		next, err := s.store.GetMatch(ctx, *match.FeedsToID)
		if err != nil {
			return nil, fmt.Errorf("failed to get downstream match: %w", err)
		}
		data.Downstream = next
	}

	return data, nil
}
