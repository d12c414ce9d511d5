package vm

import (
	"context"
	"fmt"
	"log/slog"
)

func (vm *VM) executeOpcode(pc, opcode uint16) error {
	instr := decode(opcode)

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug(
			"exec",
			"pc", fmt.Sprintf("0x%04x", pc),
			"opcode", fmt.Sprintf("0x%04x", opcode),
			"instr", instr.Name(opcode),
		)
	}

	return instr.Execute(vm, opcode)
}

// Disassemble returns the mnemonic for a single instruction word.
func Disassemble(opcode uint16) string {
	return decode(opcode).Name(opcode)
}

type instruction struct {
	Name    func(opcode uint16) string
	Execute func(vm *VM, opcode uint16) error
}

func regX(opcode uint16) uint16 { return (opcode & 0x0F00) >> 8 }
func regY(opcode uint16) uint16 { return (opcode & 0x00F0) >> 4 }
func imm8(opcode uint16) uint8  { return uint8(opcode & 0x00FF) }
func addr(opcode uint16) uint16 { return opcode & 0x0FFF }

func decode(opcode uint16) instruction {
	// Control words are matched on the full word so that 0NNN never
	// falls through to a wildcard.
	switch opcode {
	case 0x0000:
		return nopInstruction
	case 0x00E0:
		return clsInstruction
	case 0x00EE:
		return rtsInstruction
	}

	switch opcode & 0xF000 {
	case 0x1000:
		// 1NNN - Jumps to address NNN
		return jmpInstruction

	case 0x2000:
		// 2NNN - Calls subroutine at NNN
		return jsrInstruction

	case 0x3000:
		// 3XNN - Skips the next instruction if VX equals NN
		return skeq1Instruction

	case 0x4000:
		// 4XNN - Skips the next instruction if VX does not equal NN
		return skne1Instruction

	case 0x5000:
		// 5XY0 - Skips the next instruction if VX equals VY
		if opcode&0x000F == 0 {
			return skeq2Instruction
		}

	case 0x6000:
		// 6XNN - Sets VX to NN
		return mov1Instruction

	case 0x7000:
		// 7XNN - Adds NN to VX, VF untouched
		return add1Instruction

	case 0x8000:
		switch opcode & 0x000F {
		case 0x0000:
			return mov2Instruction
		case 0x0001:
			return orInstruction
		case 0x0002:
			return andInstruction
		case 0x0003:
			return xorInstruction
		case 0x0004:
			// 8XY4 - VF is set to 1 when there's a carry
			return add2Instruction
		case 0x0005:
			// 8XY5 - VF is set to 0 when there's a borrow
			return subInstruction
		case 0x0006:
			return shrInstruction
		case 0x0007:
			// 8XY7 - VX = VY - VX, VF is set to 0 when there's a borrow
			return rsbInstruction
		case 0x000E:
			return shlInstruction
		}

	case 0x9000:
		// 9XY0 - Skips the next instruction if VX doesn't equal VY
		if opcode&0x000F == 0 {
			return skne2Instruction
		}

	case 0xA000:
		// ANNN - Sets I to the address NNN
		return mviInstruction

	case 0xB000:
		// BNNN - Jumps to the address NNN plus V0
		return jmiInstruction

	case 0xC000:
		// CXNN - Sets VX to a random number, masked by NN
		return randInstruction

	case 0xD000:
		// DXYN - Draws an 8xN sprite from memory at I at (VX, VY)
		return spriteInstruction

	case 0xE000:
		switch opcode & 0x00FF {
		case 0x009E:
			return skprInstruction
		case 0x00A1:
			return skupInstruction
		}

	case 0xF000:
		switch opcode & 0x00FF {
		case 0x0007:
			return gdelayInstruction
		case 0x000A:
			return keyInstruction
		case 0x0015:
			return sdelayInstruction
		case 0x0018:
			return ssoundInstruction
		case 0x001E:
			return adiInstruction
		case 0x0029:
			return fontInstruction
		case 0x0033:
			return bcdInstruction
		case 0x0055:
			return strInstruction
		case 0x0065:
			return ldrInstruction
		}
	}

	return unknownInstruction
}

// skipIf moves past the next instruction when cond holds. The fetch has
// already stepped over the current one.
func (vm *VM) skipIf(cond bool) {
	if cond {
		vm.pc += InstructionSize
	}
}

// setWithFlag writes VX first and VF second, so VF wins when X is F.
func (vm *VM) setWithFlag(x uint16, value uint8, flag bool) {
	vm.registers[x] = value
	if flag {
		vm.registers[flagRegister] = 1
	} else {
		vm.registers[flagRegister] = 0
	}
}

func regImmName(mnemonic string) func(opcode uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s v%x, %d", mnemonic, regX(opcode), imm8(opcode))
	}
}

func regRegName(mnemonic string) func(opcode uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s v%x, v%x", mnemonic, regX(opcode), regY(opcode))
	}
}

func regName(mnemonic string) func(opcode uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s v%x", mnemonic, regX(opcode))
	}
}

func addrName(mnemonic string) func(opcode uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s 0x%03x", mnemonic, addr(opcode))
	}
}

var (
	// 0000	nop
	nopInstruction = instruction{
		Name: func(opcode uint16) string {
			return "nop"
		},
		Execute: func(vm *VM, opcode uint16) error {
			return nil
		},
	}

	// 00E0	cls	Clear the screen
	clsInstruction = instruction{
		Name: func(opcode uint16) string {
			return "cls"
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.gfx = Screen{}
			return nil
		},
	}

	// 00EE	rts	return from subroutine call
	rtsInstruction = instruction{
		Name: func(opcode uint16) string {
			return "rts"
		},
		Execute: func(vm *VM, opcode uint16) error {
			pc, err := vm.pop()
			if err != nil {
				return err
			}
			vm.pc = pc
			return nil
		},
	}

	// 1xxx	jmp xxx	jump to address xxx
	jmpInstruction = instruction{
		Name: addrName("jmp"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.pc = addr(opcode)
			return nil
		},
	}

	// 2xxx	jsr xxx	jump to subroutine at address xxx
	jsrInstruction = instruction{
		Name: addrName("jsr"),
		Execute: func(vm *VM, opcode uint16) error {
			if err := vm.push(vm.pc); err != nil {
				return err
			}
			vm.pc = addr(opcode)
			return nil
		},
	}

	// 3rxx	skeq vr,xx	skip if register r = constant
	skeq1Instruction = instruction{
		Name: regImmName("skeq"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] == imm8(opcode))
			return nil
		},
	}

	// 4rxx	skne vr,xx	skip if register r <> constant
	skne1Instruction = instruction{
		Name: regImmName("skne"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] != imm8(opcode))
			return nil
		},
	}

	// 5ry0	skeq vr,vy	skip if register r = register y
	skeq2Instruction = instruction{
		Name: regRegName("skeq"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] == vm.registers[regY(opcode)])
			return nil
		},
	}

	// 6rxx	mov vr,xx	move constant to register r
	mov1Instruction = instruction{
		Name: regImmName("mov"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = imm8(opcode)
			return nil
		},
	}

	// 7rxx	add vr,xx	add constant to register r	No carry generated
	add1Instruction = instruction{
		Name: regImmName("add"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] += imm8(opcode)
			return nil
		},
	}

	// 8ry0	mov vr,vy	move register vy into vr
	mov2Instruction = instruction{
		Name: regRegName("mov"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = vm.registers[regY(opcode)]
			return nil
		},
	}

	// 8ry1	or rx,ry	or register vy into register vx
	orInstruction = instruction{
		Name: regRegName("or"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] |= vm.registers[regY(opcode)]
			return nil
		},
	}

	// 8ry2	and rx,ry	and register vy into register vx
	andInstruction = instruction{
		Name: regRegName("and"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] &= vm.registers[regY(opcode)]
			return nil
		},
	}

	// 8ry3	xor rx,ry	exclusive or register ry into register rx
	xorInstruction = instruction{
		Name: regRegName("xor"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] ^= vm.registers[regY(opcode)]
			return nil
		},
	}

	// 8ry4	add vr,vy	add register vy to vr,carry in vf
	add2Instruction = instruction{
		Name: regRegName("add"),
		Execute: func(vm *VM, opcode uint16) error {
			vX := regX(opcode)
			sum := uint16(vm.registers[vX]) + uint16(vm.registers[regY(opcode)])

			vm.setWithFlag(vX, uint8(sum), sum > 0xFF)
			return nil
		},
	}

	// 8ry5	sub vr,vy	subtract register vy from vr,borrow in vf	vf set to 0 if borrows
	subInstruction = instruction{
		Name: regRegName("sub"),
		Execute: func(vm *VM, opcode uint16) error {
			vX := regX(opcode)
			x, y := vm.registers[vX], vm.registers[regY(opcode)]

			vm.setWithFlag(vX, x-y, x >= y)
			return nil
		},
	}

	// 8r06	shr vr	shift register vr right, bit 0 goes into register vf
	shrInstruction = instruction{
		Name: regName("shr"),
		Execute: func(vm *VM, opcode uint16) error {
			vX := regX(opcode)
			x := vm.registers[vX]

			vm.registers[flagRegister] = x & 0x1
			vm.registers[vX] = x >> 1
			return nil
		},
	}

	// 8ry7	rsb vr,vy	subtract register vr from register vy, result in vr	vf set to 0 if borrows
	rsbInstruction = instruction{
		Name: regRegName("rsb"),
		Execute: func(vm *VM, opcode uint16) error {
			vX := regX(opcode)
			x, y := vm.registers[vX], vm.registers[regY(opcode)]

			vm.setWithFlag(vX, y-x, y >= x)
			return nil
		},
	}

	// 8r0e	shl vr	shift register vr left,bit 7 goes into register vf
	shlInstruction = instruction{
		Name: regName("shl"),
		Execute: func(vm *VM, opcode uint16) error {
			vX := regX(opcode)
			x := vm.registers[vX]

			vm.registers[flagRegister] = x >> 7
			vm.registers[vX] = x << 1
			return nil
		},
	}

	// 9ry0	skne vr,vy	skip if register r <> register y
	skne2Instruction = instruction{
		Name: regRegName("skne"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] != vm.registers[regY(opcode)])
			return nil
		},
	}

	// axxx	mvi xxx	Load index register with constant xxx
	mviInstruction = instruction{
		Name: addrName("mvi"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.index = addr(opcode)
			return nil
		},
	}

	// bxxx	jmi xxx	Jump to address xxx+register v0
	jmiInstruction = instruction{
		Name: addrName("jmi"),
		Execute: func(vm *VM, opcode uint16) error {
			offset := vm.registers[0]
			if vm.quirks.JumpWithVx {
				offset = vm.registers[regX(opcode)]
			}

			vm.pc = addr(opcode) + uint16(offset)
			return nil
		},
	}

	// crxx	rand vr,xx	vr = random byte masked by xx
	randInstruction = instruction{
		Name: regImmName("rand"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = vm.random() & imm8(opcode)
			return nil
		},
	}

	// drys	sprite rx,ry,s	Draw sprite at screen location rx,ry height s
	// The origin wraps around the screen, the sprite itself is clipped.
	// If when drawn, clears a pixel, vf is set to 1 otherwise it is zero.
	// All drawing is xor drawing (e.g. it toggles the screen pixels)
	spriteInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("sprite v%x, v%x, %d", regX(opcode), regY(opcode), opcode&0x000F)
		},
		Execute: func(vm *VM, opcode uint16) error {
			xLocation := int(vm.registers[regX(opcode)]) % ScreenWidth
			yLocation := int(vm.registers[regY(opcode)]) % ScreenHeight
			height := int(opcode & 0x000F)

			// rows past the bottom edge are never read
			rows := min(height, ScreenHeight-yLocation)
			if err := checkRange(vm.index, rows); err != nil {
				return err
			}

			vm.registers[flagRegister] = 0

			for y := 0; y < rows; y++ {
				pixel := vm.memory[int(vm.index)+y]

				const width = 8
				for x := 0; x < width; x++ {
					screenX := xLocation + x
					if screenX >= ScreenWidth {
						break
					}

					if pixel&(0x80>>x) == 0 {
						continue
					}

					screenAddr := screenX + ScreenWidth*(yLocation+y)
					if vm.gfx[screenAddr] {
						vm.registers[flagRegister] = 1
					}
					vm.gfx[screenAddr] = !vm.gfx[screenAddr]
				}
			}

			return nil
		},
	}

	// ek9e	skpr k	skip if key (register rk) pressed
	skprInstruction = instruction{
		Name: regName("skpr"),
		Execute: func(vm *VM, opcode uint16) error {
			down, err := vm.keyState(vm.registers[regX(opcode)])
			if err != nil {
				return err
			}

			vm.skipIf(down)
			return nil
		},
	}

	// eka1	skup k	skip if key (register rk) not pressed
	skupInstruction = instruction{
		Name: regName("skup"),
		Execute: func(vm *VM, opcode uint16) error {
			down, err := vm.keyState(vm.registers[regX(opcode)])
			if err != nil {
				return err
			}

			vm.skipIf(!down)
			return nil
		},
	}

	// fr07	gdelay vr	get delay timer into vr
	gdelayInstruction = instruction{
		Name: regName("gdelay"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = vm.delayTimer
			return nil
		},
	}

	// fr0a	key vr	wait for keypress, put key in register vr
	// With no key down the instruction is fetched again on the next step.
	keyInstruction = instruction{
		Name: regName("key"),
		Execute: func(vm *VM, opcode uint16) error {
			for i, down := range vm.keypad {
				if down {
					vm.registers[regX(opcode)] = uint8(i)
					return nil
				}
			}

			vm.pc -= InstructionSize
			return nil
		},
	}

	// fr15	sdelay vr	set the delay timer to vr
	sdelayInstruction = instruction{
		Name: regName("sdelay"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.delayTimer = vm.registers[regX(opcode)]
			return nil
		},
	}

	// fr18	ssound vr	set the sound timer to vr
	ssoundInstruction = instruction{
		Name: regName("ssound"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.soundTimer = vm.registers[regX(opcode)]
			return nil
		},
	}

	// fr1e	adi vr	add register vr to the index register
	// VF is set to 1 when the result leaves the address space.
	adiInstruction = instruction{
		Name: regName("adi"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.index += uint16(vm.registers[regX(opcode)])

			if vm.quirks.NoIndexOverflowFlag {
				return nil
			}

			if vm.index >= MemorySize {
				vm.registers[flagRegister] = 1
			} else {
				vm.registers[flagRegister] = 0
			}
			return nil
		},
	}

	// fr29	font vr	point I to the sprite for hexadecimal character in vr	Sprite is 5 bytes high
	fontInstruction = instruction{
		Name: regName("font"),
		Execute: func(vm *VM, opcode uint16) error {
			glyph := uint16(vm.registers[regX(opcode)] & 0x0F)
			vm.index = FontStart + glyph*FontGlyphSize
			return nil
		},
	}

	// fr33	bcd vr	store the bcd representation of register vr at location I,I+1,I+2	Doesn't change I
	bcdInstruction = instruction{
		Name: regName("bcd"),
		Execute: func(vm *VM, opcode uint16) error {
			if err := checkRange(vm.index, 3); err != nil {
				return err
			}

			x := vm.registers[regX(opcode)]
			vm.memory[vm.index] = x / 100
			vm.memory[vm.index+1] = (x / 10) % 10
			vm.memory[vm.index+2] = x % 10
			return nil
		},
	}

	// fr55	str v0-vr	store registers v0-vr at location I onwards	Doesn't change I
	strInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("str v0-v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			n := regX(opcode)
			if err := checkRange(vm.index, int(n)+1); err != nil {
				return err
			}

			copy(vm.memory[vm.index:vm.index+n+1], vm.registers[:n+1])
			return nil
		},
	}

	// fr65	ldr v0-vr	load registers v0-vr from location I onwards	Doesn't change I
	ldrInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ldr v0-v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			n := regX(opcode)
			if err := checkRange(vm.index, int(n)+1); err != nil {
				return err
			}

			copy(vm.registers[:n+1], vm.memory[vm.index:vm.index+n+1])
			return nil
		},
	}

	unknownInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("unknown 0x%04X", opcode)
		},
		Execute: func(vm *VM, opcode uint16) error {
			return fmt.Errorf("%w 0x%04X", ErrUnknownOpcode, opcode)
		},
	}
)

func (vm *VM) keyState(key uint8) (bool, error) {
	if int(key) >= KeyCount {
		return false, fmt.Errorf("%w: key 0x%02x", ErrOutOfBounds, key)
	}
	return vm.keypad[key], nil
}
