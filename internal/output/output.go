// Package output carries human-readable progress messages from the
// infrastructure services to the terminal.
package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/ui"
)

// Publisher receives progress messages. Publish never fails.
type Publisher interface {
	Publish(message string)
}

// Console writes messages to a terminal, styling them by their leading verb,
// and mirrors them to the debug log.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	log logrus.FieldLogger
}

// NewConsole returns a Console writing to out
func NewConsole(out io.Writer, log logrus.FieldLogger) *Console {
	return &Console{out: out, log: log}
}

// Publish implements Publisher
func (c *Console) Publish(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, style(message))
	if c.log != nil {
		c.log.Debug(message)
	}
}

func style(message string) string {
	switch {
	case strings.HasPrefix(message, "Found"):
		return ui.MutedStyle.Render(message)
	case strings.HasPrefix(message, "Created"), strings.HasPrefix(message, "Ready"):
		return ui.RunningStyle.Render(message)
	case strings.HasPrefix(message, "Deleted"), strings.HasPrefix(message, "Terminated"):
		return ui.StoppedStyle.Render(message)
	case strings.HasPrefix(message, "Error"), strings.HasPrefix(message, "Failed"):
		return ui.ErrorStyle.Render(message)
	case strings.HasPrefix(message, "Waiting"):
		return ui.PendingStyle.Render(message)
	}
	return message
}

// Publishf formats and publishes a message
func Publishf(p Publisher, format string, args ...interface{}) {
	p.Publish(fmt.Sprintf(format, args...))
}

// Recorder keeps every published message in memory
type Recorder struct {
	mu       sync.Mutex
	Messages []string
}

// Publish implements Publisher
func (r *Recorder) Publish(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, message)
}

// Contains reports whether any message contains substr
func (r *Recorder) Contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.Messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// Discard drops every message
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string) {}
