package reduction

import (
	"github.com/abelzeko/station-reducer/internal/entities"
)

// BuildProfiles computes the soil and crop signatures of every station of the
// field, overwriting any previous ones.
func BuildProfiles(f *entities.Field) {
	for _, st := range f.Stations {
		soil, crop := Profile(f, st.ID)
		st.SetSignatures(soil, crop)
	}
}

// Profile computes the soil and crop signatures of one station id without
// storing them.
func Profile(f *entities.Field, stationID string) (soil, crop entities.Signature) {
	return signatureOf(f.SoilSensors, stationID), signatureOf(f.CropSensors, stationID)
}

// signatureOf walks sensors in declaration order; the order is part of the
// signature.
func signatureOf(sensors []*entities.Sensor, stationID string) entities.Signature {
	sig := make(entities.Signature, len(sensors))
	for i, s := range sensors {
		sig[i] = s.Frequency(stationID) > 0
	}
	return sig
}
