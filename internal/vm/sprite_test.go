package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// litCells returns the coordinates of every set pixel.
func litCells(s Screen) [][2]int {
	var cells [][2]int
	for y := 0; y < ScreenHeight; y++ {
		for x := 0; x < ScreenWidth; x++ {
			if s.At(x, y) {
				cells = append(cells, [2]int{x, y})
			}
		}
	}
	return cells
}

func TestSprite_FontGlyph(t *testing.T) {
	// mvi 0x050; sprite v0, v1, 5
	vm := newWithProgram(t, 0xA050, 0xD015)
	vm.registers[flagRegister] = 0xAA
	steps(t, vm, 2)

	rows := []string{
		"####....",
		"#..#....",
		"#..#....",
		"#..#....",
		"####....",
	}
	screen := vm.Screen()
	for y, row := range rows {
		for x, c := range row {
			assert.Equal(t, c == '#', screen.At(x, y), "pixel %d,%d", x, y)
		}
	}
	assert.Len(t, litCells(screen), 14)
	assert.Equal(t, uint8(0), vm.registers[flagRegister])
	assert.Equal(t, FontStart, vm.index)
}

func TestSprite_DrawTwiceRestores(t *testing.T) {
	// sprite v1, v2, 5 twice
	vm := newWithProgram(t, 0xD125, 0xD125)
	vm.index = FontStart + 8*FontGlyphSize
	vm.registers[1] = 10
	vm.registers[2] = 4
	vm.gfx[12+ScreenWidth*20] = true // untouched pixel elsewhere
	before := vm.Screen()

	require.NoError(t, vm.Step())
	assert.NotEqual(t, before, vm.Screen())
	assert.Equal(t, uint8(0), vm.registers[flagRegister])

	require.NoError(t, vm.Step())
	assert.Equal(t, before, vm.Screen())
	assert.Equal(t, uint8(1), vm.registers[flagRegister])
}

func TestSprite_CollisionOnSinglePixel(t *testing.T) {
	vm := newWithProgram(t, 0xD121)
	vm.index = 0x300
	vm.memory[0x300] = 0x80
	vm.registers[1] = 3
	vm.registers[2] = 3
	vm.gfx[3+ScreenWidth*3] = true
	vm.gfx[4+ScreenWidth*3] = true

	require.NoError(t, vm.Step())
	assert.False(t, vm.gfx[3+ScreenWidth*3])
	assert.True(t, vm.gfx[4+ScreenWidth*3])
	assert.Equal(t, uint8(1), vm.registers[flagRegister])
}

func TestSprite_ClipsRight(t *testing.T) {
	vm := newWithProgram(t, 0xD122)
	vm.index = 0x300
	vm.memory[0x300] = 0xFF
	vm.memory[0x301] = 0xFF
	vm.registers[1] = 60
	vm.registers[2] = 0

	require.NoError(t, vm.Step())

	want := [][2]int{
		{60, 0}, {61, 0}, {62, 0}, {63, 0},
		{60, 1}, {61, 1}, {62, 1}, {63, 1},
	}
	assert.Equal(t, want, litCells(vm.Screen()))
}

func TestSprite_ClipsBottom(t *testing.T) {
	vm := newWithProgram(t, 0xD124)
	vm.index = 0x300
	for i := 0; i < 4; i++ {
		vm.memory[0x300+i] = 0x80
	}
	vm.registers[1] = 0
	vm.registers[2] = 30

	require.NoError(t, vm.Step())
	assert.Equal(t, [][2]int{{0, 30}, {0, 31}}, litCells(vm.Screen()))
}

func TestSprite_OriginWraps(t *testing.T) {
	vm := newWithProgram(t, 0xD121)
	vm.index = 0x300
	vm.memory[0x300] = 0xC0
	vm.registers[1] = 64 + 5
	vm.registers[2] = 32 + 2

	require.NoError(t, vm.Step())
	assert.Equal(t, [][2]int{{5, 2}, {6, 2}}, litCells(vm.Screen()))
}

func TestSprite_FlagRegisterAsCoordinate(t *testing.T) {
	// VF supplies the x origin and is then cleared before drawing
	vm := newWithProgram(t, 0xDF11)
	vm.index = 0x300
	vm.memory[0x300] = 0x80
	vm.registers[flagRegister] = 7
	vm.registers[1] = 1

	require.NoError(t, vm.Step())
	assert.Equal(t, [][2]int{{7, 1}}, litCells(vm.Screen()))
	assert.Equal(t, uint8(0), vm.registers[flagRegister])
}

func TestSprite_ClearedFlagWithoutCollision(t *testing.T) {
	vm := newWithProgram(t, 0xD121)
	vm.index = 0x300
	vm.memory[0x300] = 0x01
	vm.registers[flagRegister] = 1

	require.NoError(t, vm.Step())
	assert.Equal(t, uint8(0), vm.registers[flagRegister])
}

func TestSprite_OutOfBounds(t *testing.T) {
	vm := newWithProgram(t, 0xD12F)
	vm.index = MemorySize - 4
	vm.registers[flagRegister] = 0xAA

	err := vm.Step()
	require.ErrorIs(t, err, ErrOutOfBounds)
	assert.Equal(t, Screen{}, vm.Screen())
	assert.Equal(t, uint8(0xAA), vm.registers[flagRegister])
	assert.Equal(t, ProgramStart, vm.pc)
}

func TestSprite_ClippedRowsAreNotRead(t *testing.T) {
	// only two rows fit, so reading stops before leaving memory
	vm := newWithProgram(t, 0xD12F)
	vm.index = MemorySize - 2
	vm.memory[MemorySize-2] = 0x80
	vm.registers[2] = 30

	require.NoError(t, vm.Step())
	assert.Equal(t, [][2]int{{0, 30}}, litCells(vm.Screen()))
}

func TestClearScreen(t *testing.T) {
	vm := newWithProgram(t, 0x00E0)
	vm.gfx[0] = true
	vm.gfx[len(vm.gfx)-1] = true

	require.NoError(t, vm.Step())
	assert.Equal(t, Screen{}, vm.Screen())
}
