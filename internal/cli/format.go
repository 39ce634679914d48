package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/stackaudit/stackaudit/internal/report"
)

// OutputFormat represents the output format type.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
)

// Formatter renders report entries for output.
type Formatter interface {
	Format(entries []report.Entry) (string, error)
}

// NewFormatter creates a formatter for the given format.
func NewFormatter(format OutputFormat, human bool) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TextFormatter{Human: human}
	}
}

// TextFormatter renders a human-readable table, largest stack first.
type TextFormatter struct {
	// Human renders byte counts in IEC units instead of raw numbers.
	Human bool
}

func (f *TextFormatter) Format(entries []report.Entry) (string, error) {
	if len(entries) == 0 {
		return "No functions to report.\n", nil
	}

	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSTACK\tNAME")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.bytes(e.Code), f.bytes(e.StackOrZero()), e.Name)
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	// Colorize after tabbing so ANSI codes don't skew column widths.
	lines := strings.SplitN(buf.String(), "\n", 2)
	return color.New(color.Bold).Sprint(lines[0]) + "\n" + lines[1], nil
}

func (f *TextFormatter) bytes(v uint64) string {
	if f.Human {
		return humanize.IBytes(v)
	}
	return strconv.FormatUint(v, 10)
}

// JSONFormatter renders entries as a JSON array. Functions without a
// stack-size record carry a null stack.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(entries []report.Entry) (string, error) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

// CSVFormatter renders entries as name,code,stack rows.
type CSVFormatter struct{}

func (f *CSVFormatter) Format(entries []report.Entry) (string, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"name", "code", "stack"}); err != nil {
		return "", err
	}
	for _, e := range entries {
		stack := ""
		if e.Stack != nil {
			stack = strconv.FormatUint(*e.Stack, 10)
		}
		row := []string{e.Name, strconv.FormatUint(e.Code, 10), stack}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
