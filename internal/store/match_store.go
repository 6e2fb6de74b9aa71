package store

import (
	"context"
	"fmt"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/google/uuid"
)

// Every write below is a compare-and-set: it only lands if the row is still in
// the state the caller based its decision on, so a stale writer can never
// overwrite newer state. The bool result reports whether the row changed.

const insertMatchQuery = `INSERT INTO matches (id, tournament_id, round_number, slot_index, status,
        slot1_participant_id, slot1_is_placeholder, slot2_participant_id, slot2_is_placeholder,
        winner_participant_id, is_bye, feeds_from_1_id, feeds_from_2_id, feeds_to_id, feeds_to_slot)
    VALUES (:id, :tournament_id, :round_number, :slot_index, :status,
        :slot1_participant_id, :slot1_is_placeholder, :slot2_participant_id, :slot2_is_placeholder,
        :winner_participant_id, :is_bye, :feeds_from_1_id, :feeds_from_2_id, :feeds_to_id, :feeds_to_slot)
    ON CONFLICT (tournament_id, round_number, slot_index) DO NOTHING`

// CreateMatches inserts the records in one transaction. Positions that already
// exist are left untouched.
func (s *TournamentStore) CreateMatches(ctx context.Context, matches []bracket.Match) error {
	if len(matches) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range matches {
		if _, err := tx.NamedExecContext(ctx, insertMatchQuery, &matches[i]); err != nil {
			return fmt.Errorf("failed to insert match round %d slot %d: %w", matches[i].RoundNumber, matches[i].SlotIndex, err)
		}
	}
	return tx.Commit()
}

func (s *TournamentStore) GetMatch(ctx context.Context, id uuid.UUID) (*bracket.Match, error) {
	var match bracket.Match
	err := s.db.GetContext(ctx, &match, s.db.Rebind("SELECT * FROM matches WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err, "match", id)
	}
	return &match, nil
}

func (s *TournamentStore) GetMatches(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := s.db.SelectContext(ctx, &matches, s.db.Rebind("SELECT * FROM matches WHERE tournament_id = ? ORDER BY round_number ASC, slot_index ASC"), tournamentID)
	return matches, err
}

func (s *TournamentStore) GetRound(ctx context.Context, tournamentID uuid.UUID, round int) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := s.db.SelectContext(ctx, &matches, s.db.Rebind("SELECT * FROM matches WHERE tournament_id = ? AND round_number = ? ORDER BY slot_index ASC"), tournamentID, round)
	return matches, err
}

func (s *TournamentStore) GetMatchAt(ctx context.Context, tournamentID uuid.UUID, round, slotIndex int) (*bracket.Match, error) {
	var match bracket.Match
	err := s.db.GetContext(ctx, &match, s.db.Rebind("SELECT * FROM matches WHERE tournament_id = ? AND round_number = ? AND slot_index = ?"), tournamentID, round, slotIndex)
	if err != nil {
		return nil, notFound(err, "match at", fmt.Sprintf("round %d slot %d", round, slotIndex))
	}
	return &match, nil
}

func (s *TournamentStore) DeleteMatches(ctx context.Context, tournamentID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM matches WHERE tournament_id = ?"), tournamentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func slotColumns(position int) (participant, placeholder string, err error) {
	switch position {
	case 1:
		return "slot1_participant_id", "slot1_is_placeholder", nil
	case 2:
		return "slot2_participant_id", "slot2_is_placeholder", nil
	}
	return "", "", fmt.Errorf("slot %d: %w", position, bracket.ErrInvalidSlot)
}

// FillSlot writes the occupant only into an empty slot.
func (s *TournamentStore) FillSlot(ctx context.Context, matchID uuid.UUID, position int, occupant bracket.Occupant) (bool, error) {
	participantCol, placeholderCol, err := slotColumns(position)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`UPDATE matches SET %[1]s = ?, %[2]s = ?, updated_at = CURRENT_TIMESTAMP
        WHERE id = ? AND status <> ? AND %[1]s IS NULL AND %[2]s = ?`, participantCol, placeholderCol)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		occupant.ParticipantID, occupant.Placeholder, matchID, bracket.MatchCompleted, false)
	if err != nil {
		return false, err
	}
	return changed(res)
}

// SetFeedsFrom records the upstream match for one side, only if none is set.
func (s *TournamentStore) SetFeedsFrom(ctx context.Context, matchID uuid.UUID, position int, upstreamID uuid.UUID) (bool, error) {
	var col string
	switch position {
	case 1:
		col = "feeds_from_1_id"
	case 2:
		col = "feeds_from_2_id"
	default:
		return false, fmt.Errorf("slot %d: %w", position, bracket.ErrInvalidSlot)
	}

	query := fmt.Sprintf("UPDATE matches SET %[1]s = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND %[1]s IS NULL", col)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), upstreamID, matchID)
	if err != nil {
		return false, err
	}
	return changed(res)
}

// SetFeedsTo records where the winner goes, only if no link is set.
func (s *TournamentStore) SetFeedsTo(ctx context.Context, matchID, downstreamID uuid.UUID, position int) (bool, error) {
	if position != 1 && position != 2 {
		return false, fmt.Errorf("slot %d: %w", position, bracket.ErrInvalidSlot)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE matches SET feeds_to_id = ?, feeds_to_slot = ?, updated_at = CURRENT_TIMESTAMP
        WHERE id = ? AND feeds_to_id IS NULL`), downstreamID, position, matchID)
	if err != nil {
		return false, err
	}
	return changed(res)
}

func (s *TournamentStore) SetStatus(ctx context.Context, matchID uuid.UUID, from, to bracket.MatchStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE matches SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?"), to, matchID, from)
	if err != nil {
		return false, err
	}
	return changed(res)
}

// CompleteMatch moves a ready match to completed with the given winner. A nil
// winner is only valid for a bye between two placeholders.
func (s *TournamentStore) CompleteMatch(ctx context.Context, matchID uuid.UUID, winner *uuid.UUID, isBye bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE matches SET status = ?, winner_participant_id = ?, is_bye = ?, updated_at = CURRENT_TIMESTAMP
        WHERE id = ? AND status = ?`), bracket.MatchCompleted, winner, isBye, matchID, bracket.MatchReady)
	if err != nil {
		return false, err
	}
	return changed(res)
}
