package bracket

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchUnfilled  MatchStatus = "unfilled"
	MatchReady     MatchStatus = "ready"
	MatchCompleted MatchStatus = "completed"
)

// Occupant is what sits in one side of a match: nothing, a placeholder, or a participant.
type Occupant struct {
	ParticipantID *uuid.UUID `json:"participant_id,omitempty"`
	Placeholder   bool       `json:"placeholder"`
}

func ParticipantOccupant(id uuid.UUID) Occupant {
	return Occupant{ParticipantID: &id}
}

func PlaceholderOccupant() Occupant {
	return Occupant{Placeholder: true}
}

func (o Occupant) IsEmpty() bool {
	return o.ParticipantID == nil && !o.Placeholder
}

func (o Occupant) IsParticipant() bool {
	return o.ParticipantID != nil
}

func (o Occupant) Equal(other Occupant) bool {
	if o.Placeholder != other.Placeholder {
		return false
	}
	if o.ParticipantID == nil || other.ParticipantID == nil {
		return o.ParticipantID == nil && other.ParticipantID == nil
	}
	return *o.ParticipantID == *other.ParticipantID
}

func (o Occupant) String() string {
	switch {
	case o.ParticipantID != nil:
		return o.ParticipantID.String()
	case o.Placeholder:
		return "placeholder"
	default:
		return "empty"
	}
}

type Match struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TournamentID uuid.UUID `db:"tournament_id" json:"tournament_id"`

	// Position in the bracket, always kept so links can be re-derived
	RoundNumber int `db:"round_number" json:"round_number"`
	SlotIndex   int `db:"slot_index" json:"slot_index"`

	Status MatchStatus `db:"status" json:"status"`

	Slot1ParticipantID *uuid.UUID `db:"slot1_participant_id" json:"slot1_participant_id"`
	Slot1IsPlaceholder bool       `db:"slot1_is_placeholder" json:"slot1_is_placeholder"`
	Slot2ParticipantID *uuid.UUID `db:"slot2_participant_id" json:"slot2_participant_id"`
	Slot2IsPlaceholder bool       `db:"slot2_is_placeholder" json:"slot2_is_placeholder"`

	WinnerParticipantID *uuid.UUID `db:"winner_participant_id" json:"winner_participant_id"`
	IsBye               bool       `db:"is_bye" json:"is_bye"`

	FeedsFrom1ID *uuid.UUID `db:"feeds_from_1_id" json:"feeds_from_1_id"`
	FeedsFrom2ID *uuid.UUID `db:"feeds_from_2_id" json:"feeds_from_2_id"`
	FeedsToID    *uuid.UUID `db:"feeds_to_id" json:"feeds_to_id"`
	FeedsToSlot  *int       `db:"feeds_to_slot" json:"feeds_to_slot"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MatchID is stable per bracket position, so a record re-created for the same
// round and slot always gets the same id.
func MatchID(tournamentID uuid.UUID, round, slotIndex int) uuid.UUID {
	return uuid.NewSHA1(tournamentID, []byte(fmt.Sprintf("round-%d/slot-%d", round, slotIndex)))
}

func NewMatch(tournamentID uuid.UUID, round, slotIndex int) Match {
	return Match{
		ID:           MatchID(tournamentID, round, slotIndex),
		TournamentID: tournamentID,
		RoundNumber:  round,
		SlotIndex:    slotIndex,
		Status:       MatchUnfilled,
	}
}

func (m *Match) Slot(position int) Occupant {
	switch position {
	case 1:
		return Occupant{ParticipantID: m.Slot1ParticipantID, Placeholder: m.Slot1IsPlaceholder}
	case 2:
		return Occupant{ParticipantID: m.Slot2ParticipantID, Placeholder: m.Slot2IsPlaceholder}
	}
	return Occupant{}
}

func (m *Match) SetSlot(position int, o Occupant) {
	switch position {
	case 1:
		m.Slot1ParticipantID, m.Slot1IsPlaceholder = o.ParticipantID, o.Placeholder
	case 2:
		m.Slot2ParticipantID, m.Slot2IsPlaceholder = o.ParticipantID, o.Placeholder
	}
}

func (m *Match) FeedsFrom(position int) *uuid.UUID {
	switch position {
	case 1:
		return m.FeedsFrom1ID
	case 2:
		return m.FeedsFrom2ID
	}
	return nil
}

func (m *Match) SetFeedsFrom(position int, id *uuid.UUID) {
	switch position {
	case 1:
		m.FeedsFrom1ID = id
	case 2:
		m.FeedsFrom2ID = id
	}
}

func (m *Match) BothOccupied() bool {
	return !m.Slot(1).IsEmpty() && !m.Slot(2).IsEmpty()
}

func (m *Match) HasPlaceholder() bool {
	return m.Slot1IsPlaceholder || m.Slot2IsPlaceholder
}

// SlotOf returns the position holding the participant, or 0.
func (m *Match) SlotOf(participantID uuid.UUID) int {
	for _, pos := range []int{1, 2} {
		if id := m.Slot(pos).ParticipantID; id != nil && *id == participantID {
			return pos
		}
	}
	return 0
}

// Advancing is what this match sends downstream once completed: the winner,
// or a placeholder when both sides were empty.
func (m *Match) Advancing() Occupant {
	if m.WinnerParticipantID != nil {
		return ParticipantOccupant(*m.WinnerParticipantID)
	}
	return PlaceholderOccupant()
}

func (m *Match) IsWinner(position int) bool {
	if m.Status != MatchCompleted || m.WinnerParticipantID == nil {
		return false
	}
	id := m.Slot(position).ParticipantID
	return id != nil && *id == *m.WinnerParticipantID
}
