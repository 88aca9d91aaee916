// Package render draws a field's frequency, pattern and reduced matrices
// as Graphviz or HTML tables.
package render

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/abelzeko/station-reducer/internal/entities"
)

// Kind selects which matrix of a field to draw
type Kind string

const (
	KindFrequencies Kind = "frequencies"
	KindPatterns    Kind = "patterns"
	KindReduced     Kind = "reduced"
)

var (
	// ErrNotProfiled is returned when patterns are requested before signatures exist.
	ErrNotProfiled = errors.New("field has stations without signatures")
	// ErrNotReduced is returned when the reduced matrix is requested for an unprocessed field.
	ErrNotReduced = errors.New("field has not been reduced")
)

// Kinds lists the supported matrices in menu order
var Kinds = []Kind{KindFrequencies, KindPatterns, KindReduced}

// ParseKind accepts a kind name
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown matrix kind %q (want frequencies, patterns or reduced)", s)
}

// Row is one labelled matrix row
type Row struct {
	Label string
	Cells []string
}

// Matrix is a rendered-agnostic table: one column per sensor, soil first
type Matrix struct {
	Title   string
	Corner  string
	Columns []string
	Rows    []Row
}

// BuildMatrix lays out one matrix of the field
func BuildMatrix(f *entities.Field, kind Kind) (Matrix, error) {
	sensors := f.AllSensors()
	m := Matrix{
		Title:   fmt.Sprintf("Field %s: %s - %s matrix", f.ID, f.Name, kind),
		Corner:  "Station",
		Columns: make([]string, len(sensors)),
	}
	for i, s := range sensors {
		m.Columns[i] = s.ID
	}

	switch kind {
	case KindFrequencies:
		for _, st := range f.Stations {
			row := Row{Label: st.Name, Cells: make([]string, len(sensors))}
			for i, s := range sensors {
				row.Cells[i] = strconv.FormatInt(s.Frequency(st.ID), 10)
			}
			m.Rows = append(m.Rows, row)
		}

	case KindPatterns:
		for _, st := range f.Stations {
			soil, crop, ok := st.Signatures()
			if !ok {
				return Matrix{}, fmt.Errorf("%w: station %s", ErrNotProfiled, st.ID)
			}
			row := Row{Label: st.Name}
			for _, b := range append(soil.Bits(), crop.Bits()...) {
				row.Cells = append(row.Cells, strconv.Itoa(b))
			}
			m.Rows = append(m.Rows, row)
		}

	case KindReduced:
		if !f.Processed() {
			return Matrix{}, fmt.Errorf("%w: field %s", ErrNotReduced, f.ID)
		}
		m.Corner = "Group"
		for _, g := range f.Groups {
			row := Row{Label: g.Label(), Cells: make([]string, len(sensors))}
			for i, s := range sensors {
				total, _ := g.Total(s.ID)
				row.Cells[i] = strconv.FormatInt(total, 10)
			}
			m.Rows = append(m.Rows, row)
		}

	default:
		return Matrix{}, fmt.Errorf("unknown matrix kind %q", kind)
	}
	return m, nil
}
