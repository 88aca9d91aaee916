package reduction

import (
	"fmt"

	"github.com/abelzeko/station-reducer/internal/entities"
)

// Aggregate fills each group's totals: for every sensor, soil then crop in
// declaration order, the sum of its frequencies over the group's members.
// Zero totals are not recorded. Existing totals are replaced.
func Aggregate(f *entities.Field, groups []*entities.Group) error {
	for i, g := range groups {
		if len(g.Members) == 0 {
			return fmt.Errorf("%w: group %d of field %s", ErrEmptyGroup, i, f.ID)
		}
		g.Totals = nil
	}

	for _, sensor := range f.AllSensors() {
		for _, g := range groups {
			var total int64
			for _, m := range g.Members {
				total += sensor.Frequency(m.ID)
			}
			if total > 0 {
				g.Totals = append(g.Totals, entities.Total{
					SensorID: sensor.ID,
					Category: sensor.Category,
					Value:    total,
				})
			}
		}
	}
	return nil
}
