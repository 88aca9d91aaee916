package entities

import "fmt"

// Category distinguishes the two kinds of sensors a field declares
type Category string

const (
	CategorySoil Category = "soil"
	CategoryCrop Category = "crop"
)

// Sensor records how often it observed something at each station of its field
type Sensor struct {
	ID       string
	Name     string
	Category Category

	// Frequencies is keyed by station id; a missing entry means 0.
	Frequencies map[string]int64
}

// NewSensor creates a sensor with an empty frequency table
func NewSensor(id, name string, category Category) *Sensor {
	return &Sensor{
		ID:          id,
		Name:        name,
		Category:    category,
		Frequencies: make(map[string]int64),
	}
}

// SetFrequency records the frequency for a station. The first value recorded
// for a station wins; it returns false when a value was already present.
func (s *Sensor) SetFrequency(stationID string, value int64) bool {
	if _, ok := s.Frequencies[stationID]; ok {
		return false
	}
	s.Frequencies[stationID] = value
	return true
}

// Frequency returns the frequency recorded for a station, 0 when absent
func (s *Sensor) Frequency(stationID string) int64 {
	return s.Frequencies[stationID]
}

func (s *Sensor) String() string {
	return fmt.Sprintf("%s sensor %s: %s", s.Category, s.ID, s.Name)
}
