package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapitanov/crisp8/internal/runner"
	"github.com/kapitanov/crisp8/internal/vm"
)

var errQuit = errors.New("quit")

type fakeHost struct {
	reads   int
	presses map[int][]vm.Key // keys pressed on the n-th input read
	draws   []vm.Screen
	starts  int
	stops   int

	waits     int
	quitAfter int // WaitForNextFrame fails on this call, 0 never
}

func (h *fakeHost) ReadInput(keyDown func(vm.Key), _ func(vm.Key)) error {
	for _, key := range h.presses[h.reads] {
		keyDown(key)
	}
	h.reads++
	return nil
}

func (h *fakeHost) Draw(screen vm.Screen) error {
	h.draws = append(h.draws, screen)
	return nil
}

func (h *fakeHost) StartTone() error {
	h.starts++
	return nil
}

func (h *fakeHost) StopTone() error {
	h.stops++
	return nil
}

func (h *fakeHost) WaitForNextFrame() error {
	h.waits++
	if h.quitAfter > 0 && h.waits >= h.quitAfter {
		return errQuit
	}
	return nil
}

func program(t *testing.T, opts []vm.Option, words ...uint16) *vm.VM {
	t.Helper()

	bs := make([]byte, 0, len(words)*2)
	for _, w := range words {
		bs = append(bs, byte(w>>8), byte(w))
	}

	m := vm.New(opts...)
	require.NoError(t, m.Load(bs))
	return m
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, runner.DefaultConfig().Validate())

	for name, cfg := range map[string]runner.Config{
		"zero ipf":          {InstructionsPerFrame: 0, FrameRate: 60, TimerRate: 60},
		"zero frame rate":   {InstructionsPerFrame: 10, FrameRate: 0, TimerRate: 60},
		"negative timer hz": {InstructionsPerFrame: 10, FrameRate: 60, TimerRate: -1},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cfg.Validate(), runner.ErrInvalidConfig)

			_, err := runner.New(&fakeHost{}, cfg)
			assert.ErrorIs(t, err, runner.ErrInvalidConfig)
		})
	}
}

func TestFrame_InstructionsPerFrame(t *testing.T) {
	cfg := runner.DefaultConfig()
	cfg.InstructionsPerFrame = 5
	r, err := runner.New(&fakeHost{}, cfg)
	require.NoError(t, err)

	words := make([]uint16, 10)
	for i := range words {
		words[i] = 0x7001 // add v0, 1
	}
	m := program(t, nil, words...)

	require.NoError(t, r.Frame(m))
	assert.Equal(t, uint8(5), m.State().Registers[0])
	assert.Equal(t, uint16(0x20A), m.State().PC)
}

func TestFrame_TimerRate(t *testing.T) {
	cfg := runner.Config{InstructionsPerFrame: 3, FrameRate: 120, TimerRate: 60}
	r, err := runner.New(&fakeHost{}, cfg)
	require.NoError(t, err)

	// mov v0, 10; sdelay v0; jmp 0x204
	m := program(t, nil, 0x600A, 0xF015, 0x1204)

	require.NoError(t, r.Frame(m))
	assert.Equal(t, uint8(10), m.State().DelayTimer)

	require.NoError(t, r.Frame(m))
	assert.Equal(t, uint8(9), m.State().DelayTimer)

	require.NoError(t, r.Frame(m))
	require.NoError(t, r.Frame(m))
	assert.Equal(t, uint8(8), m.State().DelayTimer)
}

func TestFrame_Tone(t *testing.T) {
	host := &fakeHost{}
	r, err := runner.New(host, runner.DefaultConfig())
	require.NoError(t, err)

	// mov v0, 2; ssound v0; jmp 0x204
	m := program(t, []vm.Option{vm.WithToneStop(r.ToneStop)}, 0x6002, 0xF018, 0x1204)

	require.NoError(t, r.Frame(m))
	assert.Equal(t, 1, host.starts)
	assert.Equal(t, 0, host.stops)

	require.NoError(t, r.Frame(m))
	assert.Equal(t, 1, host.starts)
	assert.Equal(t, 1, host.stops)

	require.NoError(t, r.Frame(m))
	assert.Equal(t, 1, host.starts)
	assert.Equal(t, 1, host.stops)
}

func TestFrame_ToneStopsWhenTimerZeroed(t *testing.T) {
	host := &fakeHost{}
	cfg := runner.DefaultConfig()
	cfg.InstructionsPerFrame = 1
	r, err := runner.New(host, cfg)
	require.NoError(t, err)

	// mov v0, 50; ssound v0; mov v0, 0; ssound v0; jmp 0x208
	m := program(t, []vm.Option{vm.WithToneStop(r.ToneStop)}, 0x6032, 0xF018, 0x6000, 0xF018, 0x1208)

	require.NoError(t, r.Frame(m))
	require.NoError(t, r.Frame(m))
	assert.Equal(t, 1, host.starts)
	assert.Equal(t, 0, host.stops)

	require.NoError(t, r.Frame(m))
	require.NoError(t, r.Frame(m))
	assert.Equal(t, uint8(0), m.SoundTimer())
	assert.Equal(t, 1, host.stops)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Frame(m))
	}
	assert.Equal(t, 1, host.starts)
	assert.Equal(t, 1, host.stops)
}

func TestFrame_Input(t *testing.T) {
	host := &fakeHost{presses: map[int][]vm.Key{1: {vm.Key9, vm.Key3}}}
	cfg := runner.DefaultConfig()
	cfg.InstructionsPerFrame = 2
	r, err := runner.New(host, cfg)
	require.NoError(t, err)

	// key v0; jmp 0x202
	m := program(t, nil, 0xF00A, 0x1202)

	require.NoError(t, r.Frame(m))
	assert.Equal(t, uint16(0x200), m.State().PC)

	require.NoError(t, r.Frame(m))
	assert.Equal(t, uint16(0x202), m.State().PC)
	assert.Equal(t, uint8(3), m.State().Registers[0])
	assert.True(t, m.Keys()[vm.Key9])
}

func TestFrame_DrawsOnChange(t *testing.T) {
	host := &fakeHost{}
	cfg := runner.DefaultConfig()
	cfg.InstructionsPerFrame = 1
	r, err := runner.New(host, cfg)
	require.NoError(t, err)

	// jmp 0x202; mvi 0x050; sprite v0, v0, 5; jmp 0x206
	m := program(t, nil, 0x1202, 0xA050, 0xD005, 0x1206)

	require.NoError(t, r.Frame(m))
	require.Len(t, host.draws, 1)
	assert.Equal(t, vm.Screen{}, host.draws[0])

	require.NoError(t, r.Frame(m))
	assert.Len(t, host.draws, 1)

	require.NoError(t, r.Frame(m))
	require.Len(t, host.draws, 2)
	assert.True(t, host.draws[1].At(0, 0))

	require.NoError(t, r.Frame(m))
	assert.Len(t, host.draws, 2)
}

func TestFrame_MachineError(t *testing.T) {
	r, err := runner.New(&fakeHost{}, runner.DefaultConfig())
	require.NoError(t, err)

	m := program(t, nil, 0x00EE)

	err = r.Frame(m)
	require.ErrorIs(t, err, vm.ErrOutOfBounds)
}

func TestRun(t *testing.T) {
	t.Run("host error", func(t *testing.T) {
		host := &fakeHost{quitAfter: 3}
		r, err := runner.New(host, runner.DefaultConfig())
		require.NoError(t, err)

		err = r.Run(context.Background(), program(t, nil, 0x1200))
		require.ErrorIs(t, err, errQuit)
		assert.Equal(t, 3, host.reads)
	})

	t.Run("canceled", func(t *testing.T) {
		host := &fakeHost{}
		r, err := runner.New(host, runner.DefaultConfig())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err = r.Run(ctx, program(t, nil, 0x1200))
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, host.reads)
	})

	t.Run("stops tone on restart", func(t *testing.T) {
		host := &fakeHost{quitAfter: 1}
		r, err := runner.New(host, runner.DefaultConfig())
		require.NoError(t, err)

		// mov v0, 50; ssound v0; jmp 0x204
		m := program(t, nil, 0x6032, 0xF018, 0x1204)
		require.ErrorIs(t, r.Run(context.Background(), m), errQuit)
		assert.Equal(t, 1, host.starts)

		host.waits = 0
		require.ErrorIs(t, r.Run(context.Background(), m), errQuit)
		assert.Equal(t, 1, host.stops)
	})
}

func TestWaitForReboot(t *testing.T) {
	host := &fakeHost{quitAfter: 2}
	r, err := runner.New(host, runner.DefaultConfig())
	require.NoError(t, err)

	err = r.WaitForReboot(context.Background())
	require.ErrorIs(t, err, errQuit)
	assert.Equal(t, 1, host.reads)
	assert.Empty(t, host.draws)
}
