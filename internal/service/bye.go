package service

import (
	"context"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/google/uuid"
)

// resolveBye completes a ready match that has a placeholder in it. The
// participant opposite the placeholder wins. Two placeholders complete with no
// winner and send a placeholder on.
func (s *BracketService) resolveBye(ctx context.Context, p *pass, m *bracket.Match) error {
	if m.Status != bracket.MatchReady {
		return nil
	}

	var winner *uuid.UUID
	s1, s2 := m.Slot(1), m.Slot(2)
	switch {
	case s1.Placeholder && s2.Placeholder:
	case s1.Placeholder && s2.IsParticipant():
		winner = s2.ParticipantID
	case s2.Placeholder && s1.IsParticipant():
		winner = s1.ParticipantID
	default:
		return nil
	}

	ok, err := s.completeMatch(ctx, m.ID, winner, true)
	if err != nil {
		return err
	}
	if ok {
		p.touch(m.ID)
		s.metrics.ByeResolved()
		s.logger.Info("bye resolved", "tournament_id", m.TournamentID, "match_id", m.ID,
			"round", m.RoundNumber, "slot_index", m.SlotIndex, "winner_id", winner)
	}

	// A concurrent writer may have resolved it first; either way advance
	// whatever the record holds now.
	if m, err = s.getMatch(ctx, m.ID); err != nil {
		return err
	}
	return s.advance(ctx, p, m)
}
