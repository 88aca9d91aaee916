package render

import (
	"context"
	"fmt"
	"html"
	"html/template"
	"io"
	"os/exec"
	"strings"
	"unicode"

	"github.com/abelzeko/station-reducer/internal/entities"
)

// WriteDOT writes a Graphviz digraph whose single node carries the matrix as
// an HTML-like table label.
func WriteDOT(w io.Writer, f *entities.Field, kind Kind) error {
	m, err := BuildMatrix(f, kind)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", dotQuote("field_"+f.ID+"_"+string(kind)))
	fmt.Fprintf(&b, "  label=%s;\n  labelloc=t;\n  node [shape=plaintext];\n", dotQuote(m.Title))
	b.WriteString("  matrix [label=<\n")
	b.WriteString(dotTable(m))
	b.WriteString("  >];\n}\n")

	_, err = io.WriteString(w, b.String())
	return err
}

// dotQuote returns s as a DOT quoted string. DOT only understands \" and \\
// escapes, so invalid UTF-8 is replaced and control characters other than
// newlines are dropped.
func dotQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range strings.ToValidUTF8(s, "\uFFFD") {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func dotTable(m Matrix) string {
	var b strings.Builder
	b.WriteString(`    <TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0" CELLPADDING="4">` + "\n")
	b.WriteString(`      <TR><TD BGCOLOR="lightgrey"><B>` + html.EscapeString(m.Corner) + `</B></TD>`)
	for _, c := range m.Columns {
		b.WriteString(`<TD BGCOLOR="lightgrey"><B>` + html.EscapeString(c) + `</B></TD>`)
	}
	b.WriteString("</TR>\n")
	for _, r := range m.Rows {
		b.WriteString(`      <TR><TD ALIGN="LEFT">` + html.EscapeString(r.Label) + `</TD>`)
		for _, c := range r.Cells {
			b.WriteString(`<TD>` + html.EscapeString(c) + `</TD>`)
		}
		b.WriteString("</TR>\n")
	}
	b.WriteString("    </TABLE>\n")
	return b.String()
}

var pageTemplate = template.Must(template.New("matrix").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<table class="matrix">
<thead><tr><th>{{.Corner}}</th>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr><th scope="row">{{.Label}}</th>{{range .Cells}}<td>{{.}}</td>{{end}}</tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

// WriteHTML writes the matrix as a standalone HTML page
func WriteHTML(w io.Writer, f *entities.Field, kind Kind) error {
	m, err := BuildMatrix(f, kind)
	if err != nil {
		return err
	}
	return pageTemplate.Execute(w, m)
}

// RenderPNG converts a DOT file to PNG with the Graphviz dot binary
func RenderPNG(ctx context.Context, dotBinary, dotPath, pngPath string) error {
	if dotBinary == "" {
		dotBinary = "dot"
	}
	if _, err := exec.LookPath(dotBinary); err != nil {
		return fmt.Errorf("graphviz binary %q not found: %w", dotBinary, err)
	}
	out, err := exec.CommandContext(ctx, dotBinary, "-Tpng", "-o", pngPath, dotPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to render %s: %w: %s", dotPath, err, strings.TrimSpace(string(out)))
	}
	return nil
}
