package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// JSON renders the report with its summary.
func JSON(r *Report) ([]byte, error) {
	b, err := json.MarshalIndent(struct {
		*Report
		Summary Summary `json:"summary"`
		Passed  bool    `json:"passed"`
	}{r, r.Summary(), r.Passed()}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render json: %w", err)
	}
	return append(b, '\n'), nil
}

// Render renders the report in format. Text uses default options.
func Render(r *Report, format Format) ([]byte, error) {
	switch format {
	case FormatText, "":
		return []byte(Text(r, TextOptions{})), nil
	case FormatJSON:
		return JSON(r)
	case FormatJUnit:
		return JUnit(r)
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

// Write renders the report to path, creating parent directories. An empty
// path or "-" writes to stdout.
func Write(r *Report, format Format, path string) error {
	data, err := Render(r, format)
	if err != nil {
		return err
	}
	if path == "" || path == "-" {
		return writeTo(os.Stdout, data)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func writeTo(w io.Writer, data []byte) error {
	_, err := w.Write(data)
	return err
}
