package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
)

type undoStep struct {
	name string
	fn   func() error
}

// undoStack collects compensating actions for the side effects of one
// operation. Actions run last-in first-out and never observe the operation's
// context, so a cancelled command still cleans up.
type undoStack struct {
	logger *slog.Logger
	steps  []undoStep
}

func (u *undoStack) push(name string, fn func() error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// rollback runs every action, continuing past failures. It returns the names
// of the actions that succeeded and the joined failures.
func (u *undoStack) rollback() ([]string, error) {
	var (
		done []string
		errs []error
	)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(); err != nil {
			u.logger.Error("rollback step failed", "step", step.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		u.logger.Debug("rolled back", "step", step.name)
		done = append(done, step.name)
	}
	u.steps = nil
	return done, errors.Join(errs...)
}

// discard forgets all actions once the operation has committed
func (u *undoStack) discard() {
	u.steps = nil
}
