package bracket

import (
	"time"

	"github.com/google/uuid"
)

type Participant struct {
	ID                uuid.UUID `db:"id" json:"id"`
	TournamentID      uuid.UUID `db:"tournament_id" json:"tournament_id"`
	DisplayName       string    `db:"display_name" json:"display_name"`
	Rating            float64   `db:"rating" json:"rating"`
	RegistrationOrder int       `db:"registration_order" json:"registration_order"`
	// Deliberately empty slot, e.g. "no opponent"
	IsPlaceholder bool      `db:"is_placeholder" json:"is_placeholder"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Occupant returns what this participant puts into a match slot once seeded.
func (p Participant) Occupant() Occupant {
	if p.IsPlaceholder {
		return PlaceholderOccupant()
	}
	return ParticipantOccupant(p.ID)
}
