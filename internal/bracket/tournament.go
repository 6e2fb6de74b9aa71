package bracket

import (
	"time"

	"github.com/google/uuid"
)

type TournamentStatus string

const (
	TournamentDraft     TournamentStatus = "draft"
	TournamentStarted   TournamentStatus = "started"
	TournamentCompleted TournamentStatus = "completed"
)

type TournamentType string

const (
	SingleElimination TournamentType = "single"
)

// Materialization decides when rounds after the first get their match records.
type Materialization string

const (
	MaterializeLazy  Materialization = "lazy"
	MaterializeEager Materialization = "eager"
)

type SeedingMode string

const (
	SeedByRating SeedingMode = "rating"
	SeedManual   SeedingMode = "manual"
)

type Tournament struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	Name            string           `db:"name" json:"name"`
	Capacity        int              `db:"capacity" json:"capacity"`
	Type            TournamentType   `db:"bracket_type" json:"bracket_type"`
	Layout          Layout           `db:"layout" json:"layout"`
	Materialization Materialization  `db:"materialization" json:"materialization"`
	Seeding         SeedingMode      `db:"seeding" json:"seeding"`
	Status          TournamentStatus `db:"status" json:"status"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}

func (t *Tournament) Topology() (Topology, error) {
	return NewTopology(t.Capacity, t.Layout)
}

func ParseLayout(s string) (Layout, bool) {
	switch Layout(s) {
	case "", LayoutCompact:
		return LayoutCompact, true
	case LayoutPowerOfTwo:
		return LayoutPowerOfTwo, true
	}
	return "", false
}

func ParseMaterialization(s string) (Materialization, bool) {
	switch Materialization(s) {
	case "", MaterializeLazy:
		return MaterializeLazy, true
	case MaterializeEager:
		return MaterializeEager, true
	}
	return "", false
}

func ParseSeedingMode(s string) (SeedingMode, bool) {
	switch SeedingMode(s) {
	case "", SeedByRating:
		return SeedByRating, true
	case SeedManual:
		return SeedManual, true
	}
	return "", false
}
