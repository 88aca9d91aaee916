package reduction

import (
	"github.com/abelzeko/station-reducer/internal/entities"
)

// Reduce runs profile → partition → aggregate on one field and stores the
// resulting groups on it. On error the field's previous group list is cleared
// and nothing partial is stored.
func Reduce(f *entities.Field) error {
	f.Groups = nil

	BuildProfiles(f)

	groups, err := Partition(f)
	if err != nil {
		return err
	}
	if err := Aggregate(f, groups); err != nil {
		return err
	}

	f.Groups = groups
	return nil
}

// Stats summarises a reduced field
type Stats struct {
	Stations int
	Groups   int
	Merged   int // Stations absorbed into another station's group
}

// StatsOf returns reduction statistics for a processed field
func StatsOf(f *entities.Field) Stats {
	s := Stats{Stations: len(f.Stations), Groups: len(f.Groups)}
	s.Merged = s.Stations - s.Groups
	return s
}
