package vm

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
)

const (
	MemorySize    = 4096
	StackSize     = 16
	RegisterCount = 16
	ScreenWidth   = 64
	ScreenHeight  = 32
	KeyCount      = 16

	ProgramStart    = uint16(0x200)
	FontStart       = uint16(0x050)
	FontGlyphSize   = 5
	InstructionSize = 2

	flagRegister = 0x0F
)

var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrOutOfBounds   = errors.New("out of bounds")
)

// Screen is a row-major snapshot of the framebuffer (index = x + ScreenWidth*y).
type Screen [ScreenWidth * ScreenHeight]bool

// At reports whether the pixel at column x, row y is set. Coordinates
// outside 0 <= x < ScreenWidth, 0 <= y < ScreenHeight read as unset.
func (s Screen) At(x, y int) bool {
	if x < 0 || x >= ScreenWidth || y < 0 || y >= ScreenHeight {
		return false
	}
	return s[x+ScreenWidth*y]
}

// Keypad is a snapshot of the sixteen logical keys.
type Keypad [KeyCount]bool

type Key uint8

const (
	Key0 = Key(iota)
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
)

// Quirks toggles historically divergent opcode interpretations.
// The zero value is the default behavior.
type Quirks struct {
	// BXNN jumps to XNN + VX instead of NNN + V0.
	JumpWithVx bool
	// FX1E leaves VF untouched instead of reporting index overflow.
	NoIndexOverflowFlag bool
}

// Option configures a VM in New.
type Option func(*VM)

// WithToneStop registers a callback fired when the sound timer goes from 1 to 0.
func WithToneStop(fn func()) Option {
	return func(vm *VM) {
		vm.toneStop = fn
	}
}

// WithRandom replaces the random byte source used by CXNN.
func WithRandom(fn func() uint8) Option {
	return func(vm *VM) {
		vm.random = fn
	}
}

// WithQuirks enables opcode variants, see Quirks.
func WithQuirks(q Quirks) Option {
	return func(vm *VM) {
		vm.quirks = q
	}
}

type VM struct {
	memory    [MemorySize]uint8    // Memory (4k)
	registers [RegisterCount]uint8 // V registers (V0-VF)

	stack [StackSize]uint16 // Stack
	sp    uint16            // Stack pointer

	pc    uint16 // Program counter
	index uint16 // Index register

	delayTimer uint8 // Delay timer
	soundTimer uint8 // Sound timer

	gfx    Screen // Graphics buffer
	keypad Keypad // Keypad

	quirks   Quirks
	random   func() uint8
	toneStop func()
}

// New returns a machine in its power-on state: font loaded, pc at ProgramStart.
func New(opts ...Option) *VM {
	vm := &VM{
		random: func() uint8 {
			return uint8(rand.Intn(256))
		},
	}
	for _, opt := range opts {
		opt(vm)
	}

	vm.Reset()
	return vm
}

// Reset restores the power-on state. Options given to New are kept.
func (vm *VM) Reset() {
	vm.memory = [MemorySize]uint8{}
	vm.registers = [RegisterCount]uint8{}
	vm.stack = [StackSize]uint16{}
	vm.sp = 0
	vm.pc = ProgramStart
	vm.index = 0
	vm.delayTimer = 0
	vm.soundTimer = 0
	vm.gfx = Screen{}
	vm.keypad = Keypad{}

	slog.Debug("load font", "at", fmt.Sprintf("0x%04x", FontStart), "n", len(chip8Font))
	copy(vm.memory[FontStart:], chip8Font[:])
}

// Load copies a program into memory at ProgramStart.
func (vm *VM) Load(program []byte) error {
	end := int(ProgramStart) + len(program)
	if end > MemorySize {
		return fmt.Errorf("%w: program of %d bytes ends at 0x%04x", ErrOutOfBounds, len(program), end)
	}

	slog.Info("load program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(program))
	copy(vm.memory[ProgramStart:], program)
	return nil
}

// Step fetches, decodes and executes one instruction. On error the machine
// state is left as it was before the call.
func (vm *VM) Step() error {
	pc := vm.pc

	opcode, err := vm.fetchOpcode()
	if err != nil {
		return err
	}

	vm.pc += InstructionSize
	if err := vm.executeOpcode(pc, opcode); err != nil {
		vm.pc = pc
		return fmt.Errorf("pc 0x%04x: %w", pc, err)
	}

	return nil
}

// TickTimers advances both timers by one unit.
func (vm *VM) TickTimers() {
	if vm.delayTimer > 0 {
		vm.delayTimer--
	}

	if vm.soundTimer > 0 {
		vm.soundTimer--
		if vm.soundTimer == 0 && vm.toneStop != nil {
			vm.toneStop()
		}
	}
}

// SetKey records whether a key is held. Keys above KeyF are ErrOutOfBounds.
func (vm *VM) SetKey(key Key, down bool) error {
	if int(key) >= KeyCount {
		return fmt.Errorf("%w: key 0x%02x", ErrOutOfBounds, uint8(key))
	}

	vm.keypad[key] = down
	return nil
}

// Screen returns a copy of the framebuffer.
func (vm *VM) Screen() Screen {
	return vm.gfx
}

// Keys returns a copy of the key state.
func (vm *VM) Keys() Keypad {
	return vm.keypad
}

// SoundTimer reports the current sound timer value.
func (vm *VM) SoundTimer() uint8 {
	return vm.soundTimer
}

// State is a read-only copy of the CPU side of the machine.
type State struct {
	PC         uint16
	Index      uint16
	SP         uint16
	Registers  [RegisterCount]uint8
	Stack      [StackSize]uint16
	DelayTimer uint8
	SoundTimer uint8
}

func (vm *VM) State() State {
	return State{
		PC:         vm.pc,
		Index:      vm.index,
		SP:         vm.sp,
		Registers:  vm.registers,
		Stack:      vm.stack,
		DelayTimer: vm.delayTimer,
		SoundTimer: vm.soundTimer,
	}
}

func (s State) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("pc", fmt.Sprintf("0x%04x", s.PC)),
		slog.String("i", fmt.Sprintf("0x%04x", s.Index)),
		slog.Int("sp", int(s.SP)),
		slog.String("v", fmt.Sprintf("% x", s.Registers[:])),
		slog.Int("dt", int(s.DelayTimer)),
		slog.Int("st", int(s.SoundTimer)),
	)
}

func (vm *VM) fetchOpcode() (uint16, error) {
	if int(vm.pc)+1 >= MemorySize {
		return 0, fmt.Errorf("%w: fetch at pc 0x%04x", ErrOutOfBounds, vm.pc)
	}

	hi := vm.memory[vm.pc]
	lo := vm.memory[vm.pc+1]

	opcode := uint16(hi)<<8 | uint16(lo) // Op code is two bytes
	return opcode, nil
}

// checkRange reports whether n bytes starting at addr fit in memory.
func checkRange(addr uint16, n int) error {
	if int(addr)+n > MemorySize {
		return fmt.Errorf("%w: address 0x%04x+%d", ErrOutOfBounds, addr, n)
	}
	return nil
}

func (vm *VM) push(addr uint16) error {
	if int(vm.sp) >= StackSize {
		return fmt.Errorf("%w: stack overflow", ErrOutOfBounds)
	}
	vm.stack[vm.sp] = addr
	vm.sp++
	return nil
}

func (vm *VM) pop() (uint16, error) {
	if vm.sp == 0 {
		return 0, fmt.Errorf("%w: stack underflow", ErrOutOfBounds)
	}
	vm.sp--
	return vm.stack[vm.sp], nil
}

var chip8Font = [16 * FontGlyphSize]uint8{
	0xF0, 0x90, 0x90, 0x90, 0xF0, // 0
	0x20, 0x60, 0x20, 0x20, 0x70, // 1
	0xF0, 0x10, 0xF0, 0x80, 0xF0, // 2
	0xF0, 0x10, 0xF0, 0x10, 0xF0, // 3
	0x90, 0x90, 0xF0, 0x10, 0x10, // 4
	0xF0, 0x80, 0xF0, 0x10, 0xF0, // 5
	0xF0, 0x80, 0xF0, 0x90, 0xF0, // 6
	0xF0, 0x10, 0x20, 0x40, 0x40, // 7
	0xF0, 0x90, 0xF0, 0x90, 0xF0, // 8
	0xF0, 0x90, 0xF0, 0x10, 0xF0, // 9
	0xF0, 0x90, 0xF0, 0x90, 0x90, // A
	0xE0, 0x90, 0xE0, 0x90, 0xE0, // B
	0xF0, 0x80, 0x80, 0x80, 0xF0, // C
	0xE0, 0x90, 0x90, 0x90, 0xE0, // D
	0xF0, 0x80, 0xF0, 0x80, 0xF0, // E
	0xF0, 0x80, 0xF0, 0x80, 0x80, // F
}
