package provision

import (
	"context"

	"go.uber.org/zap"

	"github.com/Cyb3rDudu/docstack/internal/errs"
)

// step is one forward action with its compensating action. compensate may
// be nil for steps that leave nothing behind.
type step struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// saga runs steps in order. When a step fails, the compensations of every
// previously completed step run in reverse order. The step's error is
// returned as the cause; compensation failures are attached to it, never
// substituted for it.
type saga struct {
	steps  []step
	logger *zap.Logger
}

func newSaga(logger *zap.Logger) *saga {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &saga{logger: logger}
}

func (s *saga) add(name string, run, compensate func(ctx context.Context) error) {
	s.steps = append(s.steps, step{name: name, run: run, compensate: compensate})
}

func (s *saga) execute(ctx context.Context) error {
	for i, st := range s.steps {
		err := st.run(ctx)
		if err == nil {
			continue
		}
		s.logger.Warn("step failed, unwinding",
			zap.String("step", st.name),
			zap.Error(err))

		var compFailures []error
		for j := i - 1; j >= 0; j-- {
			prev := s.steps[j]
			if prev.compensate == nil {
				continue
			}
			if cerr := prev.compensate(ctx); cerr != nil {
				s.logger.Error("compensation failed",
					zap.String("step", prev.name),
					zap.Error(cerr))
				compFailures = append(compFailures, cerr)
			} else {
				s.logger.Info("compensated", zap.String("step", prev.name))
			}
		}

		var typed *errs.Error
		if e, ok := err.(*errs.Error); ok {
			typed = e
		} else {
			typed = errs.Wrap(errs.KindPersistence, err, "step %s failed", st.name)
		}
		return typed.WithCompensation(compFailures...)
	}
	return nil
}
