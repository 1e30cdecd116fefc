// Package ui implements the handler's UI port for a terminal.
package ui

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/stenstromen/wikiexport/file"
	"github.com/stenstromen/wikiexport/types"
)

var kindColors = map[types.StatusKind]*color.Color{
	types.StatusIdle:       color.New(color.Reset),
	types.StatusProcessing: color.New(color.FgCyan),
	types.StatusSuccess:    color.New(color.FgGreen, color.Bold),
	types.StatusError:      color.New(color.FgRed, color.Bold),
	types.StatusWarning:    color.New(color.FgRed),
}

// Terminal prints status changes to out and saves downloads to a sink.
type Terminal struct {
	mu       sync.Mutex
	out      io.Writer
	sink     file.Sink
	input    string
	text     string
	kind     types.StatusKind
	enabled  bool
	location string
}

func NewTerminal(out io.Writer, sink file.Sink) *Terminal {
	return &Terminal{out: out, sink: sink, enabled: true}
}

func (t *Terminal) SetInput(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.input = url
}

func (t *Terminal) Input() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input
}

func (t *Terminal) ClearInput() {
	t.SetInput("")
}

func (t *Terminal) SetStatus(text string, kind types.StatusKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.text, t.kind = text, kind

	c, ok := kindColors[kind]
	if !ok {
		c = kindColors[types.StatusIdle]
	}
	c.Fprintln(t.out, text)
}

func (t *Terminal) Status() (string, types.StatusKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text, t.kind
}

func (t *Terminal) SetTriggerEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *Terminal) TriggerEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Terminal) TriggerDownload(ctx context.Context, data []byte, filename string) error {
	location, err := t.sink.Save(ctx, filename, data)
	if err != nil {
		return fmt.Errorf("unable to save %q: %w", filename, err)
	}

	t.mu.Lock()
	t.location = location
	t.mu.Unlock()
	fmt.Fprintf(t.out, "Saved %s\n", location)
	return nil
}

// LastLocation is where the most recent download was stored.
func (t *Terminal) LastLocation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location
}
