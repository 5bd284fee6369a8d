//go:build amd64

// Package arch holds the x86-64-specific constants the rest of deet needs:
// the trap opcode used for software breakpoints and the register-index
// translation between what ptrace hands back and what DWARF expects.
package arch

// TrapInstruction is the int3 trap opcode. Executing it raises a SIGTRAP in
// the tracee, which is how a software breakpoint announces itself.
var TrapInstruction = []byte{0xcc}

// TrapOpcode is TrapInstruction as a single byte, for callers that work
// byte-at-a-time (the breakpoint registry).
const TrapOpcode = 0xcc

// https://github.com/torvalds/linux/blob/master/arch/x86/include/uapi/asm/ptrace.h#L44
// Indexes into the ptrace register array for the registers the debugger
// cares about directly.
const (
	PCRegNum = 16 // rip
	SPRegNum = 19 // rsp
	FPRegNum = 4  // rbp
)

// AsmToDwarfReg converts a ptrace register index into its DWARF register
// number, the numbering DW_OP_breg* location expressions use.
func AsmToDwarfReg(reg int) (uint64, bool) {
	asm2dwarf := map[int]uint64{
		0:  15,
		1:  14,
		2:  13,
		3:  12,
		4:  6, // rbp
		5:  3,
		6:  11,
		7:  10,
		8:  9,
		9:  8,
		10: 0,
		11: 2,
		12: 1,
		13: 4,
		14: 5,
		16: 16, // rip
		19: 7,  // rsp
	}

	dreg, ok := asm2dwarf[reg]
	return dreg, ok
}
