// Package ui renders workflow reports for people and for scripts.
//
// Text output is colored when it goes to a terminal. JSON and YAML output
// carry the same fields as the report types and never contain color.
package ui

import (
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/fatih/color"
	"go.yaml.in/yaml/v3"
	"golang.org/x/term"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// Format selects how a report is written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Formats lists the accepted --output values.
var Formats = []Format{FormatText, FormatJSON, FormatYAML}

// ParseFormat validates an --output value. Empty means text.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatText, nil
	}
	f := Format(s)
	if !slices.Contains(Formats, f) {
		return "", felerrors.NewConfigError("output", "unknown output format "+s+" (valid: text, json, yaml)")
	}
	return f, nil
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// palette holds the colors used by text output. All entries are disabled
// when the writer is not a terminal or NO_COLOR is set.
type palette struct {
	good  *color.Color
	warn  *color.Color
	bad   *color.Color
	faint *color.Color
	bold  *color.Color
}

func newPalette(w io.Writer) *palette {
	p := &palette{
		good:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		bad:   color.New(color.FgRed),
		faint: color.New(color.FgHiBlack),
		bold:  color.New(color.Bold),
	}
	if color.NoColor || !IsTerminal(w) {
		for _, c := range []*color.Color{p.good, p.warn, p.bad, p.faint, p.bold} {
			c.DisableColor()
		}
	}
	return p
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return felerrors.Wrap(enc.Encode(v), "failed to encode JSON")
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return felerrors.Wrap(err, "failed to encode YAML")
	}
	return felerrors.Wrap(enc.Close(), "failed to encode YAML")
}

// encode writes v as JSON or YAML. It returns false for text.
func encode(w io.Writer, format Format, v any) (bool, error) {
	switch format {
	case FormatJSON:
		return true, writeJSON(w, v)
	case FormatYAML:
		return true, writeYAML(w, v)
	default:
		return false, nil
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
