package deps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mfulz/geistbind/internal/logging"
)

// Requirement is an executable a device type needs at runtime.
type Requirement struct {
	Binary  string   // resolved through $PATH
	Install []string // argv installing the binary, empty if it cannot be installed
}

// ExecChecker checks requirements with exec.LookPath and installs missing
// ones by running their install command.
type ExecChecker struct {
	mu       sync.RWMutex
	reqs     map[string][]Requirement
	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewExecChecker creates a checker without requirements.
func NewExecChecker() *ExecChecker {
	return &ExecChecker{
		reqs:     make(map[string][]Requirement),
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
	}
}

// Add appends requirements for deviceType.
func (c *ExecChecker) Add(deviceType string, reqs ...Requirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs[deviceType] = append(c.reqs[deviceType], reqs...)
}

func (c *ExecChecker) missing(deviceType string) []Requirement {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Requirement
	for _, r := range c.reqs[deviceType] {
		if _, err := c.lookPath(r.Binary); err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Check reports whether every requirement of deviceType is available.
func (c *ExecChecker) Check(_ context.Context, deviceType string) (bool, error) {
	return len(c.missing(deviceType)) == 0, nil
}

// Install runs the install commands of all missing requirements.
func (c *ExecChecker) Install(ctx context.Context, deviceType string) error {
	for _, r := range c.missing(deviceType) {
		if len(r.Install) == 0 {
			return fmt.Errorf("'%s' is missing and has no install command", r.Binary)
		}

		logging.Log.Infof("[deps] running: %s", strings.Join(r.Install, " "))
		cmd := c.command(ctx, r.Install[0], r.Install[1:]...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("installing '%s': %w: %s", r.Binary, err, strings.TrimSpace(out.String()))
		}

		if _, err := c.lookPath(r.Binary); err != nil {
			return fmt.Errorf("'%s' still missing after installation", r.Binary)
		}
	}
	return nil
}
