package entities

import "strings"

// LabelSeparator joins member names in a group label
const LabelSeparator = ", "

// Total is the aggregated frequency of one sensor over a group's members
type Total struct {
	SensorID string
	Category Category
	Value    int64
}

// Group is a set of stations sharing identical soil and crop signatures.
// Members are referenced, not owned: they still belong to their field.
type Group struct {
	Members []*Station

	// Totals holds one entry per sensor with a non-zero total, soil sensors
	// first, each category in declaration order.
	Totals []Total
}

// Representative is the first station that joined the group
func (g *Group) Representative() *Station {
	if len(g.Members) == 0 {
		return nil
	}
	return g.Members[0]
}

// Label joins member names in join order
func (g *Group) Label() string {
	names := make([]string, len(g.Members))
	for i, m := range g.Members {
		names[i] = m.Name
	}
	return strings.Join(names, LabelSeparator)
}

// Total returns the aggregated value for a sensor and whether one was recorded
func (g *Group) Total(sensorID string) (int64, bool) {
	for _, t := range g.Totals {
		if t.SensorID == sensorID {
			return t.Value, true
		}
	}
	return 0, false
}

// Contains reports whether a station id is a member
func (g *Group) Contains(stationID string) bool {
	for _, m := range g.Members {
		if m.ID == stationID {
			return true
		}
	}
	return false
}
