package reduction

import (
	"fmt"
	"strings"

	"github.com/abelzeko/station-reducer/internal/entities"
)

// groupKey is the canonical encoding of one (soil, crop) signature pair.
// Within a field both lengths are fixed, so the separator keeps the encoding
// injective.
type groupKey string

func keyOf(soil, crop entities.Signature) groupKey {
	var b strings.Builder
	b.Grow(len(soil) + len(crop) + 1)
	writeBits(&b, soil)
	b.WriteByte('|')
	writeBits(&b, crop)
	return groupKey(b.String())
}

func writeBits(b *strings.Builder, sig entities.Signature) {
	for _, v := range sig {
		if v {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
}

// Partition groups the field's stations by identical signature pairs.
//
// Stations are visited in declaration order. A station joins the group opened
// by the first station with the same pair, otherwise it opens a new group and
// becomes its representative, so group order and representatives depend only
// on input order. Every station must have been profiled against the field's
// current sensor lists.
func Partition(f *entities.Field) ([]*entities.Group, error) {
	soilLen, cropLen := len(f.SoilSensors), len(f.CropSensors)

	groups := make([]*entities.Group, 0)
	index := make(map[groupKey]int)

	for _, st := range f.Stations {
		soil, crop, ok := st.Signatures()
		if !ok {
			return nil, fmt.Errorf("%w: station %s in field %s", ErrMissingSignature, st.ID, f.ID)
		}
		if len(soil) != soilLen || len(crop) != cropLen {
			return nil, fmt.Errorf("%w: station %s in field %s has %d/%d, field declares %d/%d",
				ErrInconsistentSignatureLength, st.ID, f.ID, len(soil), len(crop), soilLen, cropLen)
		}

		k := keyOf(soil, crop)
		if i, found := index[k]; found {
			groups[i].Members = append(groups[i].Members, st)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, &entities.Group{Members: []*entities.Station{st}})
	}

	return groups, nil
}
