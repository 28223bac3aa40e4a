package compiler

import (
	"fmt"
	"sync"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// golang-asm is not goroutine-safe so we take lock until we complete the assembly.
var assemblerMu sync.Mutex

// placeholderAddress is never a real address. It forces the assembler to emit the 10 byte form of MOVQ $imm64, AX,
// which leaves room for any address to be patched in later.
const placeholderAddress = int64(1 << 33)

// movImm64Prefix is the length of REX.W and the opcode in MOVQ $imm64, AX, which precede the immediate.
const movImm64Prefix = 2

// amd64Assembler builds one code segment.
type amd64Assembler struct {
	b *goasm.Builder
	// onGenerateCallbacks holds the callbacks which are called after generating native code.
	onGenerateCallbacks []func(code []byte) error
}

func newAmd64Assembler() (*amd64Assembler, error) {
	// We can choose arbitrary number instead of 1024 which indicates the cache size in the compiler.
	b, err := goasm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	a := &amd64Assembler{b: b}
	// golang-asm treats the first instruction as the header of the function and never encodes it.
	a.add(a.newProg(obj.ANOP))
	return a, nil
}

func (a *amd64Assembler) newProg(as obj.As) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	return p
}

func (a *amd64Assembler) add(p *obj.Prog) {
	a.b.AddInstruction(p)
}

func (a *amd64Assembler) assemble() ([]byte, error) {
	code := a.b.Assemble()
	for _, cb := range a.onGenerateCallbacks {
		if err := cb(code); err != nil {
			return nil, err
		}
	}
	return code, nil
}

// constToRegister emits "inst $value, reg".
func (a *amd64Assembler) constToRegister(inst obj.As, value int64, reg int16) *obj.Prog {
	p := a.newProg(inst)
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	a.add(p)
	return p
}

// constToMemory emits "inst $value, offset(base)". value must fit in a sign-extended 32-bit immediate.
func (a *amd64Assembler) constToMemory(inst obj.As, value int64, base int16, offset int64) {
	p := a.newProg(inst)
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = offset
	a.add(p)
}

// memoryToRegister emits "inst offset(base), reg".
func (a *amd64Assembler) memoryToRegister(inst obj.As, base int16, offset int64, reg int16) {
	p := a.newProg(inst)
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	a.add(p)
}

// registerToMemory emits "inst reg, offset(base)".
func (a *amd64Assembler) registerToMemory(inst obj.As, reg int16, base int16, offset int64) {
	p := a.newProg(inst)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = offset
	a.add(p)
}

// callAddress emits "MOVQ $address, AX; CALL AX" and returns the MOVQ, whose immediate starts movImm64Prefix bytes
// after its Pc once assembled.
func (a *amd64Assembler) callAddress(address int64) *obj.Prog {
	mov := a.constToRegister(x86.AMOVQ, address, x86.REG_AX)
	call := a.newProg(obj.ACALL)
	call.To.Type = obj.TYPE_REG
	call.To.Reg = x86.REG_AX
	a.add(call)
	return mov
}

func (a *amd64Assembler) ret() {
	a.add(a.newProg(obj.ARET))
}
