package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/srg/nuimo/internal/feed"
	"golang.org/x/term"
)

const (
	formatText  = "text"
	formatTable = "table"
	formatJSON  = "json"
)

// validateFormat checks format against the accepted values.
func validateFormat(format string, valid ...string) error {
	for _, v := range valid {
		if format == v {
			return nil
		}
	}
	return fmt.Errorf("invalid format '%s': must be one of %v", format, valid)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// eventPrinter renders journal entries as colored text lines or JSON lines.
type eventPrinter struct {
	out    io.Writer
	format string
	colors map[string]*color.Color
	plain  *color.Color
}

func newEventPrinter(out io.Writer, format string) *eventPrinter {
	p := &eventPrinter{
		out:    out,
		format: format,
		colors: map[string]*color.Color{
			kindConnection: color.New(color.FgCyan),
			kindGesture:    color.New(color.FgGreen, color.Bold),
			kindBattery:    color.New(color.FgYellow),
			kindMatrix:     color.New(color.FgMagenta),
			kindError:      color.New(color.FgRed, color.Bold),
		},
		plain: color.New(color.Reset),
	}

	tty := isTerminal(out)
	all := []*color.Color{p.plain}
	for _, c := range p.colors {
		all = append(all, c)
	}
	for _, c := range all {
		if tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Print writes one entry.
func (p *eventPrinter) Print(e feed.Entry) error {
	if p.format == formatJSON {
		return json.NewEncoder(p.out).Encode(e)
	}

	c, ok := p.colors[e.Kind]
	if !ok {
		c = p.plain
	}

	var b strings.Builder
	b.WriteString(e.At.Format("15:04:05.000"))
	b.WriteString(" ")
	b.WriteString(c.Sprintf("%-10s", e.Kind))
	b.WriteString(" ")
	b.WriteString(e.Message)
	for _, k := range sortedKeys(e.Fields) {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	_, err := fmt.Fprintln(p.out, b.String())
	return err
}

// Flush drains journal into the printer.
func (p *eventPrinter) Flush(journal *feed.Journal) error {
	var printErr error
	_, err := journal.Drain(func(e feed.Entry) {
		if printErr == nil {
			printErr = p.Print(e)
		}
	})
	if err != nil {
		return err
	}
	return printErr
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// since formats the age of t for tables.
func since(now, t time.Time) string {
	return fmt.Sprintf("%s ago", now.Sub(t).Truncate(time.Second))
}
