// Package fixtures renders text input tables (quality-flag files, CSVs) for
// tests from Go templates.
package fixtures

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// seq returns the integers from start to end inclusive.
func seq(start, end int) []int {
	if start > end {
		return []int{}
	}
	out := make([]int, end-start+1)
	for i := range out {
		out[i] = start + i
	}
	return out
}

var funcs = template.FuncMap{
	"seq": seq,
	"add": func(a, b int) int { return a + b },
	"mod": func(a, b int) int { return a % b },
	// step returns start + i*width, for evenly spaced time columns.
	"step": func(start float64, i int, width float64) float64 { return start + float64(i)*width },
	"f6":   func(v float64) string { return fmt.Sprintf("%.6f", v) },
}

// Render executes tmpl with data.
func Render(tmpl string, data any) (string, error) {
	t, err := template.New("fixture").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse fixture template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render fixture: %w", err)
	}
	return buf.String(), nil
}

// WriteFile renders tmpl into dir/name and returns the file path.
func WriteFile(dir, name, tmpl string, data any) (string, error) {
	out, err := Render(tmpl, data)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
