package engine

import (
	"context"
	"log/slog"
)

// saga records compensating actions for effects already applied during one
// orchestration pass. On failure the recorded actions run in reverse order,
// restoring the pre-pass state on hosts that do not roll back the whole call
// chain themselves. On a transactional host (a single EVM transaction) the
// host's revert makes the unwind a no-op in practice.
type saga struct {
	undos []struct {
		name string
		fn   func(context.Context) error
	}
}

// add registers a compensating action for an effect that just succeeded.
func (s *saga) add(name string, fn func(context.Context) error) {
	s.undos = append(s.undos, struct {
		name string
		fn   func(context.Context) error
	}{name, fn})
}

// unwind runs all compensating actions in reverse order, at most once.
// Compensation failures are logged and do not stop the remaining undos.
func (s *saga) unwind(ctx context.Context, logger *slog.Logger) {
	defer func() { s.undos = nil }()
	for i := len(s.undos) - 1; i >= 0; i-- {
		u := s.undos[i]
		if err := u.fn(ctx); err != nil {
			logger.Error("saga compensation failed",
				slog.String("step", u.name),
				slog.String("error", err.Error()),
			)
		}
	}
}
