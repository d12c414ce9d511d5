package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kapitanov/crisp8/internal/vm"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config sets the two host cadences.
type Config struct {
	InstructionsPerFrame int
	FrameRate            int // frames per second
	TimerRate            int // timer ticks per second
}

func DefaultConfig() Config {
	return Config{
		InstructionsPerFrame: 10,
		FrameRate:            60,
		TimerRate:            60,
	}
}

func (c Config) Validate() error {
	if c.InstructionsPerFrame <= 0 {
		return fmt.Errorf("%w: instructions per frame must be positive, got %d", ErrInvalidConfig, c.InstructionsPerFrame)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("%w: frame rate must be positive, got %d", ErrInvalidConfig, c.FrameRate)
	}
	if c.TimerRate < 0 {
		return fmt.Errorf("%w: timer rate must not be negative, got %d", ErrInvalidConfig, c.TimerRate)
	}
	return nil
}

type Host interface {
	ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error
	Draw(screen vm.Screen) error
	StartTone() error
	StopTone() error
	WaitForNextFrame() error
}

type Machine interface {
	Step() error
	TickTimers()
	SetKey(key vm.Key, down bool) error
	Screen() vm.Screen
	SoundTimer() uint8
	State() vm.State
}

type Runner struct {
	host Host
	cfg  Config

	timerDebt   float64 // fractional timer ticks carried between frames
	toneOn      bool
	toneStopped bool
	drawn       bool
	lastScreen  vm.Screen
}

func New(host Host, cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Runner{host: host, cfg: cfg}, nil
}

// ToneStop is meant to be registered with vm.WithToneStop.
func (r *Runner) ToneStop() {
	r.toneStopped = true
}

// Run pumps frames until the context is done, the host fails or the machine
// hits a fatal error.
func (r *Runner) Run(ctx context.Context, m Machine) error {
	if err := r.restart(); err != nil {
		return err
	}

	slog.Info("run",
		"ipf", r.cfg.InstructionsPerFrame,
		"frameRate", r.cfg.FrameRate,
		"timerRate", r.cfg.TimerRate,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.Frame(m); err != nil {
			return err
		}

		if err := r.host.WaitForNextFrame(); err != nil {
			return err
		}
	}
}

func (r *Runner) restart() error {
	r.timerDebt = 0
	r.toneStopped = false
	r.drawn = false

	if r.toneOn {
		r.toneOn = false
		return r.host.StopTone()
	}
	return nil
}

// Frame runs one frame worth of work: input, instructions, timers, tone and display.
func (r *Runner) Frame(m Machine) error {
	var keyErr error
	setKey := func(down bool) func(vm.Key) {
		return func(key vm.Key) {
			if err := m.SetKey(key, down); err != nil && keyErr == nil {
				keyErr = err
			}
		}
	}

	if err := r.host.ReadInput(setKey(true), setKey(false)); err != nil {
		return err
	}
	if keyErr != nil {
		return fmt.Errorf("input: %w", keyErr)
	}

	for i := 0; i < r.cfg.InstructionsPerFrame; i++ {
		if err := m.Step(); err != nil {
			slog.Error("machine halted", "err", err, "state", m.State())
			return fmt.Errorf("step: %w", err)
		}
	}

	r.timerDebt += float64(r.cfg.TimerRate) / float64(r.cfg.FrameRate)
	for r.timerDebt >= 1 {
		m.TickTimers()
		r.timerDebt--
	}

	if err := r.updateTone(m); err != nil {
		return err
	}

	screen := m.Screen()
	if !r.drawn || screen != r.lastScreen {
		if err := r.host.Draw(screen); err != nil {
			return err
		}
		r.lastScreen = screen
		r.drawn = true
	}

	return nil
}

// updateTone stops on the core's 1->0 notification and also when the program
// zeroes the sound timer itself, which raises no notification.
func (r *Runner) updateTone(m Machine) error {
	stop := r.toneStopped || m.SoundTimer() == 0
	r.toneStopped = false

	if stop {
		if r.toneOn {
			slog.Debug("tone stop")
			r.toneOn = false
			if err := r.host.StopTone(); err != nil {
				return err
			}
		}
	}

	if m.SoundTimer() > 0 && !r.toneOn {
		slog.Debug("tone start", "st", m.SoundTimer())
		r.toneOn = true
		if err := r.host.StartTone(); err != nil {
			return err
		}
	}

	return nil
}

// WaitForReboot keeps the host responsive after the machine halted. It
// returns whatever the host reports, typically a quit or reboot request.
func (r *Runner) WaitForReboot(ctx context.Context) error {
	if err := r.restart(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.host.WaitForNextFrame(); err != nil {
			return err
		}

		if err := r.host.ReadInput(func(_ vm.Key) {}, func(_ vm.Key) {}); err != nil {
			return err
		}
	}
}
