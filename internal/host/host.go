// Package host implements the reporting channel back to the host engine.
// Every helper is a perl expression sent as a command frame; the answer is
// correlated through an awaitId listener.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mfulz/geistbind/dispatch"
	"github.com/mfulz/geistbind/interfaces"
	"github.com/mfulz/geistbind/internal/logging"
	"github.com/mfulz/geistbind/protocol"
)

// ErrCommandFailed wraps an error reported by the host for a command.
var ErrCommandFailed = errors.New("host command failed")

// Host sends command frames through sender and waits for answers delivered
// to listeners.
type Host struct {
	sender    dispatch.Sender
	listeners *dispatch.Listeners
}

var _ interfaces.Host = (*Host)(nil)

// New creates a Host.
func New(sender dispatch.Sender, listeners *dispatch.Listeners) *Host {
	return &Host{sender: sender, listeners: listeners}
}

// Execute evaluates cmd on the host in the context of device name and
// returns its result. It waits until the answer arrives or ctx is done.
func (h *Host) Execute(ctx context.Context, name, cmd string) (string, error) {
	token := uuid.NewString()
	answers := make(chan []byte, 1)
	h.listeners.Register(token, func(raw []byte) {
		select {
		case answers <- raw:
		default:
		}
	})

	if err := h.sender.Send(protocol.Command(token, name, cmd)); err != nil {
		h.listeners.Remove(token)
		return "", fmt.Errorf("sending command for %s: %w", name, err)
	}

	select {
	case raw := <-answers:
		answer, err := protocol.Decode(raw)
		if err != nil {
			return "", err
		}
		if msg := answer.String(protocol.FieldError); msg != "" {
			return answer.String(protocol.FieldResult), fmt.Errorf("%w: %s", ErrCommandFailed, msg)
		}
		return answer.String(protocol.FieldResult), nil
	case <-ctx.Done():
		h.listeners.Remove(token)
		logging.Log.Debugf("[host] %s: no answer for '%s': %v", name, cmd, ctx.Err())
		return "", ctx.Err()
	}
}

// ReadingsSingleUpdate sets one reading of name.
func (h *Host) ReadingsSingleUpdate(ctx context.Context, name, reading, value string, trigger bool) error {
	cmd := fmt.Sprintf("readingsSingleUpdate($defs{%s},%s,%s,%d)",
		quote(name), quote(reading), quote(value), flag(trigger))
	_, err := h.Execute(ctx, name, cmd)
	return err
}

// ReadingsBulkUpdate sets several readings of name in one update cycle.
func (h *Host) ReadingsBulkUpdate(ctx context.Context, name string, readings []interfaces.Reading, trigger bool) error {
	if len(readings) == 0 {
		return nil
	}
	def := fmt.Sprintf("$defs{%s}", quote(name))

	var b strings.Builder
	fmt.Fprintf(&b, "readingsBeginUpdate(%s);", def)
	for _, r := range readings {
		fmt.Fprintf(&b, "readingsBulkUpdate(%s,%s,%s);", def, quote(r.Name), quote(r.Value))
	}
	fmt.Fprintf(&b, "readingsEndUpdate(%s,%d);", def, flag(trigger))

	_, err := h.Execute(ctx, name, b.String())
	return err
}

// AttrVal returns attribute attr of name, or def if unset.
func (h *Host) AttrVal(ctx context.Context, name, attr, def string) (string, error) {
	return h.Execute(ctx, name, fmt.Sprintf("AttrVal(%s,%s,%s)", quote(name), quote(attr), quote(def)))
}

// ReadingsVal returns reading of name, or def if unset.
func (h *Host) ReadingsVal(ctx context.Context, name, reading, def string) (string, error) {
	return h.Execute(ctx, name, fmt.Sprintf("ReadingsVal(%s,%s,%s)", quote(name), quote(reading), quote(def)))
}

// CommandAttr sets attribute attr of name.
func (h *Host) CommandAttr(ctx context.Context, name, attr, value string) error {
	_, err := h.Execute(ctx, name, fmt.Sprintf("CommandAttr(undef,%s)", quote(name+" "+attr+" "+value)))
	return err
}

// CommandDeleteReading deletes the readings of name matching pattern.
func (h *Host) CommandDeleteReading(ctx context.Context, name, pattern string) error {
	_, err := h.Execute(ctx, name, fmt.Sprintf("CommandDeleteReading(undef,%s)", quote(name+" "+pattern)))
	return err
}

// quote renders s as a single-quoted perl string.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
