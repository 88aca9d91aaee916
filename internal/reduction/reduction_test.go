package reduction

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelzeko/station-reducer/internal/entities"
)

// freqs maps sensor id → station id → frequency
type freqs map[string]map[string]int64

// buildField declares stations and sensors in the given order
func buildField(stations []string, soil, crop []string, data freqs) *entities.Field {
	f := entities.NewField("f1", "Test field")
	for _, id := range stations {
		f.AddStation(entities.NewStation(id, "Station "+id))
	}
	add := func(ids []string, c entities.Category) {
		for _, id := range ids {
			s := entities.NewSensor(id, "Sensor "+id, c)
			for st, v := range data[id] {
				s.SetFrequency(st, v)
			}
			f.AddSensor(s)
		}
	}
	add(soil, entities.CategorySoil)
	add(crop, entities.CategoryCrop)
	return f
}

func memberIDs(g *entities.Group) []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

func groupIDs(groups []*entities.Group) [][]string {
	out := make([][]string, len(groups))
	for i, g := range groups {
		out[i] = memberIDs(g)
	}
	return out
}

func TestBuildProfilesFollowsDeclarationOrder(t *testing.T) {
	f := buildField([]string{"A", "B"}, []string{"S1", "S2", "S3"}, []string{"T1"}, freqs{
		"S1": {"A": 3},
		"S3": {"A": 1, "B": 9},
		"T1": {"B": 2},
	})

	BuildProfiles(f)

	soil, crop, ok := f.Stations[0].Signatures()
	require.True(t, ok)
	assert.Equal(t, []int{1, 0, 1}, soil.Bits())
	assert.Equal(t, []int{0}, crop.Bits())

	soil, crop, ok = f.Stations[1].Signatures()
	require.True(t, ok)
	assert.Equal(t, []int{0, 0, 1}, soil.Bits())
	assert.Equal(t, []int{1}, crop.Bits())
}

func TestBuildProfilesIsIdempotent(t *testing.T) {
	f := buildField([]string{"A"}, []string{"S1"}, []string{"T1"}, freqs{"S1": {"A": 4}})

	BuildProfiles(f)
	first, _, _ := f.Stations[0].Signatures()
	BuildProfiles(f)
	second, _, _ := f.Stations[0].Signatures()

	assert.True(t, first.Equal(second))
}

func TestProfileZeroSensorsYieldsEmptySignature(t *testing.T) {
	f := buildField([]string{"A"}, nil, []string{"T1"}, freqs{"T1": {"A": 1}})

	soil, crop := Profile(f, "A")
	assert.NotNil(t, soil)
	assert.Len(t, soil, 0)
	assert.Equal(t, []int{1}, crop.Bits())
}

// Worked example: A and B share [1,0], C is [0,1].
func TestReduceWorkedExample(t *testing.T) {
	f := buildField([]string{"A", "B", "C"}, []string{"S1", "S2"}, nil, freqs{
		"S1": {"A": 3, "B": 5, "C": 0},
		"S2": {"A": 0, "B": 0, "C": 7},
	})

	require.NoError(t, Reduce(f))
	require.Len(t, f.Groups, 2)

	ab, c := f.Groups[0], f.Groups[1]
	assert.Equal(t, "A", ab.Representative().ID)
	assert.Equal(t, "Station A, Station B", ab.Label())
	assert.Equal(t, []entities.Total{{SensorID: "S1", Category: entities.CategorySoil, Value: 8}}, ab.Totals)
	_, hasS2 := ab.Total("S2")
	assert.False(t, hasS2, "zero totals must be omitted")

	assert.Equal(t, "C", c.Representative().ID)
	assert.Equal(t, []entities.Total{{SensorID: "S2", Category: entities.CategorySoil, Value: 7}}, c.Totals)
}

// Stations without soil sensors group on their crop signature alone.
func TestReduceZeroLengthCategory(t *testing.T) {
	f := buildField([]string{"A", "B", "C"}, nil, []string{"T1", "T2"}, freqs{
		"T1": {"A": 1, "B": 2},
		"T2": {"C": 3},
	})

	require.NoError(t, Reduce(f))
	if diff := cmp.Diff([][]string{{"A", "B"}, {"C"}}, groupIDs(f.Groups)); diff != "" {
		t.Errorf("unexpected groups (-want +got):\n%s", diff)
	}
	v, ok := f.Groups[0].Total("T1")
	require.True(t, ok)
	assert.Equal(t, int64(3), v)
}

func TestPartitionIsOrderSensitive(t *testing.T) {
	f := buildField([]string{"X", "Y"}, []string{"S1", "S2"}, nil, freqs{
		"S1": {"X": 1},
		"S2": {"Y": 1},
	})
	BuildProfiles(f)

	groups, err := Partition(f)
	require.NoError(t, err)
	assert.Len(t, groups, 2, "same multiset of active sensors in a different position must not merge")
}

func TestPartitionRequiresBothCategoriesToMatch(t *testing.T) {
	f := buildField([]string{"A", "B"}, []string{"S1"}, []string{"T1"}, freqs{
		"S1": {"A": 1, "B": 1},
		"T1": {"B": 1},
	})
	BuildProfiles(f)

	groups, err := Partition(f)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A"}, {"B"}}, groupIDs(groups))
}

func TestPartitionFirstSeenOrder(t *testing.T) {
	// Pattern of each station: P, Q, P, R, Q, P
	f := buildField([]string{"1", "2", "3", "4", "5", "6"}, []string{"S1", "S2"}, nil, freqs{
		"S1": {"1": 1, "3": 2, "6": 5, "4": 1},
		"S2": {"2": 1, "5": 4, "4": 3},
	})
	BuildProfiles(f)

	groups, err := Partition(f)
	require.NoError(t, err)
	want := [][]string{{"1", "3", "6"}, {"2", "5"}, {"4"}}
	if diff := cmp.Diff(want, groupIDs(groups)); diff != "" {
		t.Errorf("unexpected groups (-want +got):\n%s", diff)
	}
}

func TestPartitionMissingSignature(t *testing.T) {
	f := buildField([]string{"A", "B"}, []string{"S1"}, nil, freqs{"S1": {"A": 1}})
	BuildProfiles(f)
	f.Stations[1].ClearSignatures()

	groups, err := Partition(f)
	assert.Nil(t, groups)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingSignature))
	assert.Contains(t, err.Error(), "station B")
}

func TestPartitionInconsistentSignatureLength(t *testing.T) {
	f := buildField([]string{"A"}, []string{"S1"}, nil, freqs{"S1": {"A": 1}})
	BuildProfiles(f)
	f.AddSensor(entities.NewSensor("S2", "late sensor", entities.CategorySoil))

	_, err := Partition(f)
	require.ErrorIs(t, err, ErrInconsistentSignatureLength)
}

func TestAggregateRejectsEmptyGroup(t *testing.T) {
	f := buildField([]string{"A"}, []string{"S1"}, nil, freqs{"S1": {"A": 1}})

	err := Aggregate(f, []*entities.Group{{}})
	require.ErrorIs(t, err, ErrEmptyGroup)
}

func TestAggregateTreatsCategoriesAlike(t *testing.T) {
	f := buildField([]string{"A", "B"}, []string{"S1"}, []string{"T1"}, freqs{
		"S1": {"A": 2, "B": 3},
		"T1": {"A": 10, "B": 20},
	})
	require.NoError(t, Reduce(f))
	require.Len(t, f.Groups, 1)

	want := []entities.Total{
		{SensorID: "S1", Category: entities.CategorySoil, Value: 5},
		{SensorID: "T1", Category: entities.CategoryCrop, Value: 30},
	}
	assert.Equal(t, want, f.Groups[0].Totals)
}

func TestReduceRecomputesAfterSensorChange(t *testing.T) {
	f := buildField([]string{"A", "B"}, []string{"S1"}, nil, freqs{"S1": {"A": 1, "B": 1}})
	require.NoError(t, Reduce(f))
	require.Len(t, f.Groups, 1)

	extra := entities.NewSensor("S2", "late sensor", entities.CategorySoil)
	extra.SetFrequency("B", 4)
	f.AddSensor(extra)

	require.NoError(t, Reduce(f))
	assert.Equal(t, [][]string{{"A"}, {"B"}}, groupIDs(f.Groups))
}

// mixedField has several overlapping patterns across both categories.
func mixedField() *entities.Field {
	return buildField(
		[]string{"e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8"},
		[]string{"s1", "s2", "s3"},
		[]string{"t1", "t2"},
		freqs{
			"s1": {"e1": 4, "e2": 1, "e5": 2, "e7": 6},
			"s2": {"e3": 3, "e4": 3, "e8": 1},
			"s3": {"e1": 1, "e2": 9, "e6": 2},
			"t1": {"e1": 5, "e2": 5, "e3": 1, "e4": 2, "e6": 7},
			"t2": {"e5": 8, "e7": 3, "e8": 2},
		},
	)
}

func TestReduceProperties(t *testing.T) {
	f := mixedField()
	require.NoError(t, Reduce(f))

	t.Run("partition", func(t *testing.T) {
		seen := make(map[string]int)
		for _, g := range f.Groups {
			require.NotEmpty(t, g.Members)
			for _, m := range g.Members {
				seen[m.ID]++
			}
		}
		require.Len(t, seen, len(f.Stations))
		for id, n := range seen {
			assert.Equal(t, 1, n, "station %s appears in %d groups", id, n)
		}
	})

	t.Run("equivalence", func(t *testing.T) {
		groupOf := make(map[string]int)
		for i, g := range f.Groups {
			for _, m := range g.Members {
				groupOf[m.ID] = i
			}
		}
		for _, a := range f.Stations {
			for _, b := range f.Stations {
				as, ac, _ := a.Signatures()
				bs, bc, _ := b.Signatures()
				same := as.Equal(bs) && ac.Equal(bc)
				assert.Equal(t, same, groupOf[a.ID] == groupOf[b.ID], "stations %s and %s", a.ID, b.ID)
			}
		}
	})

	t.Run("aggregation", func(t *testing.T) {
		for _, g := range f.Groups {
			for _, sensor := range f.AllSensors() {
				var want int64
				for _, m := range g.Members {
					want += sensor.Frequency(m.ID)
				}
				got, ok := g.Total(sensor.ID)
				if want == 0 {
					assert.False(t, ok, "zero total for %s reported", sensor.ID)
					continue
				}
				assert.True(t, ok)
				assert.Equal(t, want, got)
			}
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := StatsOf(f)
		assert.Equal(t, 8, s.Stations)
		assert.Equal(t, len(f.Groups), s.Groups)
		assert.Equal(t, s.Stations-s.Groups, s.Merged)
	})
}

func TestReduceIsDeterministic(t *testing.T) {
	summary := func() []string {
		f := mixedField()
		require.NoError(t, Reduce(f))
		var out []string
		for _, g := range f.Groups {
			out = append(out, g.Representative().ID+"="+g.Label())
		}
		return out
	}

	first := summary()
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(first, summary()); diff != "" {
			t.Fatalf("run %d differs (-first +got):\n%s", i, diff)
		}
	}
}

func TestKeyOfSeparatesCategories(t *testing.T) {
	a := keyOf(entities.Signature{true}, entities.Signature{false, true})
	b := keyOf(entities.Signature{true, false}, entities.Signature{true})
	assert.NotEqual(t, a, b)
}
