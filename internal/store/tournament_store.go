package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type TournamentStore struct {
	db *sqlx.DB
}

func NewTournamentStore(db *sqlx.DB) *TournamentStore {
	return &TournamentStore{db: db}
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, bracket.ErrNotFound)
	}
	return err
}

func (s *TournamentStore) CreateTournament(ctx context.Context, tournament *bracket.Tournament) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO tournaments (id, name, capacity, bracket_type, layout, materialization, seeding, status)
        VALUES (:id, :name, :capacity, :bracket_type, :layout, :materialization, :seeding, :status)`, tournament)
	return err
}

func (s *TournamentStore) GetTournament(ctx context.Context, id uuid.UUID) (*bracket.Tournament, error) {
	var tournament bracket.Tournament
	err := s.db.GetContext(ctx, &tournament, s.db.Rebind("SELECT * FROM tournaments WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err, "tournament", id)
	}
	return &tournament, nil
}

// ListTournaments returns every tournament, or only those in the given statuses.
func (s *TournamentStore) ListTournaments(ctx context.Context, statuses ...bracket.TournamentStatus) ([]bracket.Tournament, error) {
	var tournaments []bracket.Tournament
	if len(statuses) == 0 {
		err := s.db.SelectContext(ctx, &tournaments, "SELECT * FROM tournaments ORDER BY created_at DESC")
		return tournaments, err
	}

	query, args, err := sqlx.In("SELECT * FROM tournaments WHERE status IN (?) ORDER BY created_at DESC", statuses)
	if err != nil {
		return nil, err
	}
	err = s.db.SelectContext(ctx, &tournaments, s.db.Rebind(query), args...)
	return tournaments, err
}

// UpdateTournamentStatus only moves the tournament if it is still in from.
func (s *TournamentStore) UpdateTournamentStatus(ctx context.Context, id uuid.UUID, from, to bracket.TournamentStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE tournaments SET status = ? WHERE id = ? AND status = ?"), to, id, from)
	if err != nil {
		return false, err
	}
	return changed(res)
}

func (s *TournamentStore) UpdateTournamentCapacity(ctx context.Context, id uuid.UUID, capacity int) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE tournaments SET capacity = ? WHERE id = ?"), capacity, id)
	if err != nil {
		return err
	}
	ok, err := changed(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tournament %s: %w", id, bracket.ErrNotFound)
	}
	return nil
}

// CreateParticipant appends the participant after everyone already registered.
// Two concurrent registrations for the same order are caught by the unique
// (tournament_id, registration_order) constraint.
func (s *TournamentStore) CreateParticipant(ctx context.Context, p *bracket.Participant) error {
	var last int
	err := s.db.GetContext(ctx, &last, s.db.Rebind("SELECT COALESCE(MAX(registration_order), 0) FROM participants WHERE tournament_id = ?"), p.TournamentID)
	if err != nil {
		return err
	}
	p.RegistrationOrder = last + 1

	_, err = s.db.NamedExecContext(ctx, `INSERT INTO participants (id, tournament_id, display_name, rating, registration_order, is_placeholder)
        VALUES (:id, :tournament_id, :display_name, :rating, :registration_order, :is_placeholder)`, p)
	if err != nil {
		return err
	}

	return s.db.GetContext(ctx, p, s.db.Rebind("SELECT * FROM participants WHERE id = ?"), p.ID)
}

func (s *TournamentStore) GetParticipant(ctx context.Context, id uuid.UUID) (*bracket.Participant, error) {
	var p bracket.Participant
	err := s.db.GetContext(ctx, &p, s.db.Rebind("SELECT * FROM participants WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err, "participant", id)
	}
	return &p, nil
}

func (s *TournamentStore) GetParticipants(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Participant, error) {
	var participants []bracket.Participant
	err := s.db.SelectContext(ctx, &participants, s.db.Rebind("SELECT * FROM participants WHERE tournament_id = ? ORDER BY registration_order ASC"), tournamentID)
	return participants, err
}

func (s *TournamentStore) CountParticipants(ctx context.Context, tournamentID uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind("SELECT COUNT(*) FROM participants WHERE tournament_id = ?"), tournamentID)
	return count, err
}

func changed(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return n > 0, nil
}
