package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.FgHiBlack)
)

// renderTable writes rows under headers. Empty input prints none.
func renderTable(w io.Writer, none string, headers []string, rows [][]string) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, none)
		return nil
	}
	data := append([][]string{headers}, rows...)
	out, err := pterm.DefaultTable.
		WithHasHeader(true).
		WithHeaderStyle(pterm.NewStyle(pterm.FgCyan, pterm.Bold)).
		WithData(data).
		Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, out)
	return nil
}

// nodeStatus colors a node status label.
func nodeStatus(s string) string {
	switch s {
	case "connected":
		return okColor.Sprint(s)
	case "connecting":
		return warnColor.Sprint(s)
	case "error":
		return failColor.Sprint(s)
	case "":
		return dimColor.Sprint("-")
	default:
		return dimColor.Sprint(s)
	}
}

func startedLabel(started bool) string {
	if started {
		return okColor.Sprint("started")
	}
	return failColor.Sprint("stopped")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeRaw pretty-prints a JSON document.
func writeRaw(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
