package hal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"github.com/kapitanov/crisp8/internal/vm"
	"github.com/veandco/go-sdl2/sdl"
)

type Options struct {
	Scale     int // window pixels per CHIP-8 pixel
	FrameRate int
}

type HAL struct {
	window          *sdl.Window
	renderer        *sdl.Renderer
	texture         *sdl.Texture
	backBuffer      []uint32
	backBufferPitch int

	tone *tone

	frameDuration time.Duration
	nextFrame     time.Time
}

var (
	ErrReboot = errors.New("reboot")
	ErrQuit   = errors.New("quit")
)

func New(opts Options) (*HAL, error) {
	if opts.Scale <= 0 || opts.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid hal options: scale %d, frame rate %d", opts.Scale, opts.FrameRate)
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_AUDIO | sdl.INIT_EVENTS); err != nil {
		return nil, fmt.Errorf("failed to init sdl: %w", err)
	}

	hal := &HAL{
		backBuffer:      make([]uint32, vm.ScreenWidth*vm.ScreenHeight),
		backBufferPitch: int(vm.ScreenWidth) * int(unsafe.Sizeof(uint32(0))),
		frameDuration:   time.Second / time.Duration(opts.FrameRate),
	}
	if err := hal.init(opts.Scale); err != nil {
		hal.Shutdown()
		return nil, err
	}

	hal.nextFrame = time.Now()
	return hal, nil
}

// init creates the window, renderer, texture and tone. Whatever was created
// before a failure is left in place for Shutdown.
func (hal *HAL) init(scale int) error {
	var err error

	width, height := int32(vm.ScreenWidth*scale), int32(vm.ScreenHeight*scale)
	hal.window, err = sdl.CreateWindow("CRISP-8", sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED, width, height, sdl.WINDOW_SHOWN)
	if err != nil {
		return fmt.Errorf("failed to create sdl window: %w", err)
	}
	slog.Debug("hal: create window", "width", width, "height", height)

	hal.renderer, err = sdl.CreateRenderer(hal.window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		return fmt.Errorf("failed to create sdl renderer: %w", err)
	}
	err = hal.renderer.SetLogicalSize(width, height)
	if err != nil {
		return fmt.Errorf("failed to resize sdl renderer: %w", err)
	}
	slog.Debug("hal: create renderer")

	hal.texture, err = hal.renderer.CreateTexture(sdl.PIXELFORMAT_ARGB8888, sdl.TEXTUREACCESS_STREAMING, vm.ScreenWidth, vm.ScreenHeight)
	if err != nil {
		return fmt.Errorf("failed to create sdl texture: %w", err)
	}
	slog.Debug("hal: create texture")

	// a machine without an audio device still runs, just silently
	t, err := newTone()
	if err != nil {
		slog.Warn("hal: audio unavailable", "err", err)
	} else {
		hal.tone = t
	}

	return nil
}

// Shutdown releases whatever New managed to create and quits SDL.
func (hal *HAL) Shutdown() {
	if hal.tone != nil {
		hal.tone.close()
		hal.tone = nil
	}

	if hal.texture != nil {
		if err := hal.texture.Destroy(); err != nil {
			slog.Error("failed to destroy sdl texture", "err", err)
		}
		hal.texture = nil
	}

	if hal.renderer != nil {
		if err := hal.renderer.Destroy(); err != nil {
			slog.Error("failed to destroy sdl renderer", "err", err)
		}
		hal.renderer = nil
	}

	if hal.window != nil {
		if err := hal.window.Destroy(); err != nil {
			slog.Error("failed to destroy sdl window", "err", err)
		}
		hal.window = nil
	}

	sdl.Quit()
}

func (hal *HAL) ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error {
	for e := sdl.PollEvent(); e != nil; e = sdl.PollEvent() {
		switch e.GetType() {
		case sdl.QUIT:
			slog.Debug("hal: exit requested")
			return ErrQuit
		case sdl.KEYDOWN:
			err := hal.processKeyDown(e.(*sdl.KeyboardEvent), keyDown)
			if err != nil {
				return err
			}

		case sdl.KEYUP:
			hal.processKeyUp(e.(*sdl.KeyboardEvent), keyUp)
		}
	}

	return nil
}

func (hal *HAL) processKeyDown(e *sdl.KeyboardEvent, callback func(vm.Key)) error {
	switch e.Keysym.Scancode {
	case sdl.SCANCODE_ESCAPE:
		slog.Debug("hal: exit requested")
		return ErrQuit
	case sdl.SCANCODE_BACKSPACE:
		slog.Debug("hal: reboot requested")
		return ErrReboot
	}

	if e.Repeat != 0 {
		return nil
	}

	key, ok := keyMap(e.Keysym.Scancode)
	if ok {
		callback(key)
	}

	return nil
}

func (hal *HAL) processKeyUp(e *sdl.KeyboardEvent, callback func(vm.Key)) {
	key, ok := keyMap(e.Keysym.Scancode)
	if ok {
		callback(key)
	}
}

func keyMap(scancode sdl.Scancode) (vm.Key, bool) {
	// Physical                Logical
	// ================        =================
	// | 1 | 2 | 3 | 4 |       | 1 | 2 | 3 | C |
	// | q | w | e | r |       | 4 | 5 | 6 | D |
	// | a | s | d | f |  <=>  | 7 | 8 | 9 | E |
	// | z | x | c | v |       | A | 0 | B | F |
	// ================        =================

	switch scancode {
	case sdl.SCANCODE_X:
		return vm.Key0, true
	case sdl.SCANCODE_1:
		return vm.Key1, true
	case sdl.SCANCODE_2:
		return vm.Key2, true
	case sdl.SCANCODE_3:
		return vm.Key3, true
	case sdl.SCANCODE_Q:
		return vm.Key4, true
	case sdl.SCANCODE_W:
		return vm.Key5, true
	case sdl.SCANCODE_E:
		return vm.Key6, true
	case sdl.SCANCODE_A:
		return vm.Key7, true
	case sdl.SCANCODE_S:
		return vm.Key8, true
	case sdl.SCANCODE_D:
		return vm.Key9, true
	case sdl.SCANCODE_Z:
		return vm.KeyA, true
	case sdl.SCANCODE_C:
		return vm.KeyB, true
	case sdl.SCANCODE_4:
		return vm.KeyC, true
	case sdl.SCANCODE_R:
		return vm.KeyD, true
	case sdl.SCANCODE_F:
		return vm.KeyE, true
	case sdl.SCANCODE_V:
		return vm.KeyF, true
	default:
		return 0, false
	}
}

const (
	bgColor = uint32(0x000000)
	fgColor = uint32(0xbea700)
)

// fillBackBuffer converts the framebuffer to ARGB pixels.
func fillBackBuffer(dst []uint32, screen vm.Screen) {
	for i, on := range screen {
		if on {
			dst[i] = fgColor
		} else {
			dst[i] = bgColor
		}
	}
}

func (hal *HAL) Draw(screen vm.Screen) error {
	fillBackBuffer(hal.backBuffer, screen)

	backBufferPtr := unsafe.Pointer(&hal.backBuffer[0])
	if err := hal.texture.Update(nil, backBufferPtr, hal.backBufferPitch); err != nil {
		return fmt.Errorf("failed to update sdl texture: %w", err)
	}

	if err := hal.renderer.Clear(); err != nil {
		return fmt.Errorf("failed to clear sdl renderer: %w", err)
	}

	if err := hal.renderer.Copy(hal.texture, nil, nil); err != nil {
		return fmt.Errorf("failed to copy sdl texture to renderer: %w", err)
	}

	hal.renderer.Present()
	return nil
}

func (hal *HAL) StartTone() error {
	if hal.tone == nil {
		return nil
	}
	return hal.tone.start()
}

func (hal *HAL) StopTone() error {
	if hal.tone == nil {
		return nil
	}
	hal.tone.stop()
	return nil
}

func (hal *HAL) WaitForNextFrame() error {
	if hal.tone != nil {
		if err := hal.tone.refill(); err != nil {
			return err
		}
	}

	hal.nextFrame = hal.nextFrame.Add(hal.frameDuration)
	delay := time.Until(hal.nextFrame)
	if delay <= 0 {
		// fell behind, don't try to catch up
		hal.nextFrame = time.Now()
		return nil
	}

	time.Sleep(delay)
	return nil
}
