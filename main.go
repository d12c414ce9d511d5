package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/kapitanov/crisp8/internal/hal"
	"github.com/kapitanov/crisp8/internal/runner"
	"github.com/kapitanov/crisp8/internal/vm"
	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s PATH_TO_ROM_FILE", filepath.Base(os.Args[0])),
		Short:         "Run emulator",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	verbose := cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	cfg := runner.DefaultConfig()
	cmd.Flags().IntVar(&cfg.InstructionsPerFrame, "ipf", cfg.InstructionsPerFrame, "instructions executed per frame")
	cmd.Flags().IntVar(&cfg.FrameRate, "frame-rate", cfg.FrameRate, "frames per second")
	cmd.Flags().IntVar(&cfg.TimerRate, "timer-rate", cfg.TimerRate, "delay and sound timer ticks per second")
	scale := cmd.Flags().Int("scale", 15, "window pixels per emulated pixel")

	var quirks vm.Quirks
	cmd.Flags().BoolVar(&quirks.JumpWithVx, "quirk-jump-vx", false, "BNNN jumps to XNN + VX")
	cmd.Flags().BoolVar(&quirks.NoIndexOverflowFlag, "quirk-no-index-flag", false, "FX1E leaves VF untouched")

	cmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		loggerOpts := &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}
		if *verbose {
			loggerOpts.Level = slog.LevelDebug
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, loggerOpts)))
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		bs, err := readROM(args[0])
		if err != nil {
			return err
		}

		h, err := hal.New(hal.Options{Scale: *scale, FrameRate: cfg.FrameRate})
		if err != nil {
			return fmt.Errorf("unable to initialize hal: %w", err)
		}
		defer h.Shutdown()

		r, err := runner.New(h, cfg)
		if err != nil {
			return err
		}

		machine := vm.New(vm.WithToneStop(r.ToneStop), vm.WithQuirks(quirks))
		return run(cmd.Context(), r, machine, bs)
	}

	cmd.AddCommand(newDisasmCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd.SetArgs(os.Args[1:])
	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}

func readROM(path string) ([]byte, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load file %q: %w", path, err)
	}
	return bs, nil
}

// run boots the program and keeps rebooting it until the user quits.
func run(ctx context.Context, r *runner.Runner, machine *vm.VM, program []byte) error {
	for {
		machine.Reset()
		if err := machine.Load(program); err != nil {
			return fmt.Errorf("unable to load program: %w", err)
		}

		err := r.Run(ctx, machine)
		if errors.Is(err, vm.ErrUnknownOpcode) || errors.Is(err, vm.ErrOutOfBounds) {
			slog.Info("program halted, press backspace to reboot", "err", err)
			err = r.WaitForReboot(ctx)
		}

		switch {
		case errors.Is(err, hal.ErrQuit), errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, hal.ErrReboot):
			slog.Info("reboot")
			continue
		default:
			return err
		}
	}
}
