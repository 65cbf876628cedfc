// Package deps serializes dependency resolution for device types. At most one
// installation runs at a time process-wide, and a cheap check decides whether
// the gate has to be taken at all.
package deps

import (
	"context"
	"fmt"
	"time"

	"github.com/mfulz/geistbind/internal/logging"
	"golang.org/x/sync/semaphore"
)

// Phase identifies a step reported to the Ensure notify callback.
type Phase int

const (
	// PhaseInstalling is reported once the first check found missing dependencies.
	PhaseInstalling Phase = iota
	// PhaseInstalled is reported after the gated step finished successfully.
	PhaseInstalled
)

// Checker checks and installs the dependencies of a device type.
type Checker interface {
	Check(ctx context.Context, deviceType string) (bool, error)
	Install(ctx context.Context, deviceType string) error
}

// Gate is the process-wide dependency installation gate.
type Gate struct {
	checker Checker
	sem     *semaphore.Weighted
	settle  time.Duration
}

// NewGate creates a gate using checker. settle is the pause after a
// successful installation.
func NewGate(checker Checker, settle time.Duration) *Gate {
	return &Gate{
		checker: checker,
		sem:     semaphore.NewWeighted(1),
		settle:  settle,
	}
}

// Ensure makes sure the dependencies of deviceType are satisfied. It returns
// whether the slow path was taken. notify may be nil.
func (g *Gate) Ensure(ctx context.Context, deviceType string, notify func(Phase)) (bool, error) {
	ok, err := g.checker.Check(ctx, deviceType)
	if err != nil {
		return false, fmt.Errorf("dependency check for '%s' failed: %w", deviceType, err)
	}
	if ok {
		return false, nil
	}

	if notify != nil {
		notify(PhaseInstalling)
	}
	if err := g.installLocked(ctx, deviceType); err != nil {
		return true, err
	}
	if notify != nil {
		notify(PhaseInstalled)
	}

	if g.settle > 0 {
		timer := time.NewTimer(g.settle)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
	return true, nil
}

func (g *Gate) installLocked(ctx context.Context, deviceType string) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for dependency gate: %w", err)
	}
	defer g.sem.Release(1)

	// another holder may have installed what we need
	ok, err := g.checker.Check(ctx, deviceType)
	if err != nil {
		return fmt.Errorf("dependency check for '%s' failed: %w", deviceType, err)
	}
	if ok {
		logging.Log.Debugf("[deps] dependencies of '%s' installed concurrently", deviceType)
		return nil
	}

	logging.Log.Infof("[deps] installing dependencies of '%s'", deviceType)
	if err := g.checker.Install(ctx, deviceType); err != nil {
		return fmt.Errorf("dependency installation for '%s' failed: %w", deviceType, err)
	}
	logging.Log.Infof("[deps] dependencies of '%s' installed", deviceType)
	return nil
}
