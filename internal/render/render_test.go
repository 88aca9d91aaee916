package render

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelzeko/station-reducer/internal/entities"
	"github.com/abelzeko/station-reducer/internal/reduction"
)

func sampleField() *entities.Field {
	f := entities.NewField("01", "Campo <norte>")
	for _, id := range []string{"A", "B", "C"} {
		f.AddStation(entities.NewStation(id, "Station "+id))
	}
	s1 := entities.NewSensor("S1", "pH", entities.CategorySoil)
	s1.SetFrequency("A", 3)
	s1.SetFrequency("B", 5)
	s2 := entities.NewSensor("S2", "Humidity", entities.CategorySoil)
	s2.SetFrequency("C", 7)
	t1 := entities.NewSensor("T1", "NDVI", entities.CategoryCrop)
	t1.SetFrequency("C", 1)
	f.AddSensor(s1)
	f.AddSensor(s2)
	f.AddSensor(t1)
	return f
}

// tableRows parses an HTML fragment and returns the text of every cell by row
func tableRows(t *testing.T, markup string) [][]string {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)

	var rows [][]string
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(c.Text()))
		})
		rows = append(rows, cells)
	})
	return rows
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("patterns")
	require.NoError(t, err)
	assert.Equal(t, KindPatterns, k)

	_, err = ParseKind("heatmap")
	assert.Error(t, err)
}

func TestFrequencyMatrixHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, sampleField(), KindFrequencies))

	rows := tableRows(t, buf.String())
	want := [][]string{
		{"Station", "S1", "S2", "T1"},
		{"Station A", "3", "0", "0"},
		{"Station B", "5", "0", "0"},
		{"Station C", "0", "7", "1"},
	}
	assert.Equal(t, want, rows)
	assert.Contains(t, buf.String(), "Campo &lt;norte&gt;")
}

func TestPatternMatrixRequiresProfiles(t *testing.T) {
	f := sampleField()
	_, err := BuildMatrix(f, KindPatterns)
	require.ErrorIs(t, err, ErrNotProfiled)

	reduction.BuildProfiles(f)
	m, err := BuildMatrix(f, KindPatterns)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "0", "0"}, m.Rows[0].Cells)
	assert.Equal(t, []string{"0", "1", "1"}, m.Rows[2].Cells)
}

func TestReducedMatrixDOT(t *testing.T) {
	f := sampleField()
	_, err := BuildMatrix(f, KindReduced)
	require.ErrorIs(t, err, ErrNotReduced)

	require.NoError(t, reduction.Reduce(f))

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, f, KindReduced))
	dot := buf.String()
	assert.True(t, strings.HasPrefix(dot, `digraph "field_01_reduced" {`))

	start := strings.Index(dot, "label=<")
	end := strings.LastIndex(dot, ">];")
	require.True(t, start >= 0 && end > start)

	rows := tableRows(t, dot[start+len("label=<"):end])
	want := [][]string{
		{"Group", "S1", "S2", "T1"},
		{"Station A, Station B", "8", "0", "0"},
		{"Station C", "0", "7", "1"},
	}
	assert.Equal(t, want, rows)
}

func TestDOTQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", `"plain"`},
		{`Campo "Sur"`, `"Campo \"Sur\""`},
		{`C:\campos`, `"C:\\campos"`},
		{"two\nlines", `"two\nlines"`},
		{"bell\x07tab\there", `"belltabhere"`},
		{"bad\xffbyte", "\"bad\uFFFDbyte\""},
		{"Estación", `"Estación"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dotQuote(tt.in), tt.in)
	}
}

func TestDOTHeaderEscapesFieldName(t *testing.T) {
	f := sampleField()
	f.Name = "Campo \"Sur\"\x01\xff"

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, f, KindFrequencies))
	assert.Contains(t, buf.String(), "label=\"Field 01: Campo \\\"Sur\\\"\uFFFD - frequencies matrix\";")
}

func TestRenderPNGMissingBinary(t *testing.T) {
	err := RenderPNG(context.Background(), "definitely-not-graphviz", "in.dot", "out.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
