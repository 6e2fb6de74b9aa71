package bracket

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AdamBeresnev/bracket-engine/internal/utils"
	"github.com/google/uuid"
)

var (
	ErrInvalidCapacity         = errors.New("invalid capacity")
	ErrInvalidWinner           = errors.New("winner is not part of this match")
	ErrSlotConflict            = errors.New("slot already holds a different occupant")
	ErrStoreUnavailable        = errors.New("match store unavailable")
	ErrStructuralInconsistency = errors.New("structural inconsistency")

	ErrNotFound           = errors.New("not found")
	ErrMatchNotReady      = errors.New("match is not ready")
	ErrInvalidSlot        = errors.New("invalid slot")
	ErrInvalidRound       = errors.New("invalid round")
	ErrRegistrationClosed = errors.New("tournament registration is closed")
	ErrTournamentFull     = errors.New("tournament registration is full")
)

// MatchError carries where in the bracket a failure happened. It unwraps to
// one of the sentinel kinds above.
type MatchError struct {
	Kind    error
	MatchID *uuid.UUID
	Round   int
	Slot    int
	Detail  string
}

func NewMatchError(kind error, m *Match, slot int, format string, args ...any) *MatchError {
	e := &MatchError{Kind: kind, Slot: slot, Detail: fmt.Sprintf(format, args...)}
	if m != nil {
		e.MatchID = utils.Ptr(m.ID)
		e.Round = m.RoundNumber
	}
	return e
}

func (e *MatchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.MatchID != nil {
		fmt.Fprintf(&b, " (match %s, round %d", e.MatchID, e.Round)
		if e.Slot > 0 {
			fmt.Fprintf(&b, ", slot %d", e.Slot)
		}
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *MatchError) Unwrap() error {
	return e.Kind
}

func AsMatchError(err error) (*MatchError, bool) {
	var me *MatchError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
