package stage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultPollTimeout is the bound on every blocking wait inside a stage loop.
const DefaultPollTimeout = time.Second

// Stage is an independently scheduled unit of the pipeline with its own
// control loop. Run returns when the stop signal is observed, when the
// stage's input is exhausted, or when the stage hits an unrecoverable error.
type Stage interface {
	Name() string
	Run() error
}

// Base holds the configuration every stage shares. It is immutable after
// construction and is embedded by value in each stage type.
type Base struct {
	name        string
	stop        *StopSignal
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewBase validates and builds the shared stage configuration.
func NewBase(name string, stop *StopSignal, pollTimeout time.Duration, logger *slog.Logger) (Base, error) {
	if name == "" {
		return Base{}, fmt.Errorf("stage name cannot be empty")
	}
	if stop == nil {
		return Base{}, fmt.Errorf("stage %s: stop signal is required", name)
	}
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Base{
		name:        name,
		stop:        stop,
		pollTimeout: pollTimeout,
		logger:      logger.With(slog.String("stage", name)),
	}, nil
}

// Name returns the stage name.
func (b Base) Name() string { return b.name }

// Stop returns the shared stop signal.
func (b Base) Stop() *StopSignal { return b.stop }

// PollTimeout returns the bound on blocking waits.
func (b Base) PollTimeout() time.Duration { return b.pollTimeout }

// Logger returns the stage-scoped logger.
func (b Base) Logger() *slog.Logger { return b.logger }

// ErrDone is returned by a step function to end the loop without error,
// typically because the stage's input was closed and fully drained.
var ErrDone = errors.New("stage done")

// Loop drives a stage control loop: it checks the stop signal, performs one
// unit of work and repeats. Timeouts returned by step are expected and only
// cause the stop signal to be re-checked.
func (b Base) Loop(step func() error) error {
	b.logger.Debug("Stage started")
	for !b.stop.IsSet() {
		err := step()
		switch {
		case err == nil, errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrDone):
			b.logger.Info("Stage input drained")
			return nil
		default:
			b.logger.Error("Stage failed", slog.String("error", err.Error()))
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	b.logger.Info("Stage stopped")
	return nil
}
