// Package entities contains the core domain objects for the station reducer
package entities

import (
	"time"
)

// Field is an agricultural field: its stations, its soil and crop sensors and,
// once processed, the groups its stations were collapsed into.
type Field struct {
	ID          string
	Name        string
	Stations    []*Station
	SoilSensors []*Sensor
	CropSensors []*Sensor

	// Groups is nil until the field has been reduced successfully.
	Groups []*Group
}

// NewField creates an empty field
func NewField(id, name string) *Field {
	return &Field{ID: id, Name: name}
}

// AddStation appends a station in declaration order
func (f *Field) AddStation(st *Station) {
	f.Stations = append(f.Stations, st)
}

// AddSensor appends a sensor to the list matching its category
func (f *Field) AddSensor(s *Sensor) {
	switch s.Category {
	case CategorySoil:
		f.SoilSensors = append(f.SoilSensors, s)
	case CategoryCrop:
		f.CropSensors = append(f.CropSensors, s)
	}
}

// Sensors returns the declared sensors of one category
func (f *Field) Sensors(c Category) []*Sensor {
	if c == CategoryCrop {
		return f.CropSensors
	}
	return f.SoilSensors
}

// AllSensors returns soil sensors followed by crop sensors, both in declaration order
func (f *Field) AllSensors() []*Sensor {
	all := make([]*Sensor, 0, len(f.SoilSensors)+len(f.CropSensors))
	all = append(all, f.SoilSensors...)
	return append(all, f.CropSensors...)
}

// Station looks up a station by id
func (f *Field) Station(id string) *Station {
	for _, st := range f.Stations {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Processed reports whether the field carries a group list
func (f *Field) Processed() bool {
	return f.Groups != nil
}

// Batch is the root value of one load → process → emit run. It replaces any
// process-wide "currently loaded fields" state: callers pass it explicitly.
type Batch struct {
	ID       string    // Run identifier, assigned when the batch is processed
	Source   string    // Path or URL the batch was decoded from
	LoadedAt time.Time // When the batch was decoded
	Fields   []*Field
}

// Field looks up a field by id
func (b *Batch) Field(id string) *Field {
	for _, f := range b.Fields {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Empty reports whether the batch holds no fields
func (b *Batch) Empty() bool {
	return b == nil || len(b.Fields) == 0
}
