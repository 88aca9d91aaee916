package entities

import (
	"fmt"
	"strings"
)

// Signature is the ordered activity vector of one station for one sensor
// category: element i is true when the i-th declared sensor ever recorded
// anything at the station.
type Signature []bool

// Equal compares length and elements in order
func (s Signature) Equal(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy. A clone of an empty signature is empty, not nil.
func (s Signature) Clone() Signature {
	out := make(Signature, len(s))
	copy(out, s)
	return out
}

// Bits renders the signature as 0/1 values
func (s Signature) Bits() []int {
	bits := make([]int, len(s))
	for i, v := range s {
		if v {
			bits[i] = 1
		}
	}
	return bits
}

// String renders the signature as "[1, 0, 1]"
func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, b := range s.Bits() {
		parts[i] = fmt.Sprint(b)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Station is a monitoring point of a field
type Station struct {
	ID   string
	Name string

	soil     Signature
	crop     Signature
	profiled bool
}

// NewStation creates a station with no signatures computed yet
func NewStation(id, name string) *Station {
	return &Station{ID: id, Name: name}
}

// SetSignatures stores the soil and crop signatures, replacing earlier ones
func (s *Station) SetSignatures(soil, crop Signature) {
	s.soil = soil
	s.crop = crop
	s.profiled = true
}

// ClearSignatures returns the station to its unprofiled state
func (s *Station) ClearSignatures() {
	s.soil, s.crop = nil, nil
	s.profiled = false
}

// Signatures returns the soil and crop signatures and whether they were computed
func (s *Station) Signatures() (soil, crop Signature, ok bool) {
	return s.soil, s.crop, s.profiled
}

// Signature returns the signature of one category, nil when not computed
func (s *Station) Signature(c Category) Signature {
	if c == CategoryCrop {
		return s.crop
	}
	return s.soil
}

func (s *Station) String() string {
	return fmt.Sprintf("station %s: %s", s.ID, s.Name)
}
