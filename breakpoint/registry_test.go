package breakpoint_test

import (
	"runtime"
	"testing"

	"github.com/nielswarden/deet/arch"
	"github.com/nielswarden/deet/breakpoint"
	"github.com/nielswarden/deet/ptrace"
)

func TestSetWithoutTraceeIsDeferred(t *testing.T) {
	r := breakpoint.NewRegistry()

	if err := r.Set(0x1000, nil); err != nil {
		t.Fatalf("Set(nil tracee): %v", err)
	}

	rec, ok := r.Find(0x1000)
	if !ok {
		t.Fatalf("Find(0x1000) = false; want true after Set")
	}
	if rec.OriginalByte != 0 {
		t.Errorf("OriginalByte = %#x before any arm; want placeholder 0", rec.OriginalByte)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d; want 1", r.Len())
	}
}

func TestIterateVisitsEveryRecord(t *testing.T) {
	r := breakpoint.NewRegistry()
	r.Set(0x1000, nil)
	r.Set(0x2000, nil)

	seen := map[uintptr]bool{}
	r.Iterate(func(rec *breakpoint.Record) {
		seen[rec.Address] = true
	})

	if !seen[0x1000] || !seen[0x2000] {
		t.Errorf("Iterate visited %v; want both 0x1000 and 0x2000", seen)
	}
}

func TestSetOnLiveTraceeThenDisarmRestoresOriginalByte(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r := breakpoint.NewRegistry()
	tracee, err := ptrace.Spawn("/bin/true", nil, r)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer tracee.Kill()

	regs, err := tracee.GetRegs()
	if err != nil {
		t.Fatalf("GetRegs: %v", err)
	}
	addr := regs.PC

	before, err := tracee.WriteByte(addr, 0x90) // probe the byte without disturbing it
	if err != nil {
		t.Fatalf("probing byte at %#x: %v", addr, err)
	}
	if _, err := tracee.WriteByte(addr, before); err != nil {
		t.Fatalf("restoring probed byte: %v", err)
	}

	if err := r.Set(addr, tracee); err != nil {
		t.Fatalf("Set: %v", err)
	}

	word, err := tracee.ReadWord(addr &^ (ptrace.WordSize - 1))
	_ = word
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	offset := int(addr) % ptrace.WordSize
	armedByte := byte(word >> (8 * offset))
	if armedByte != arch.TrapOpcode {
		t.Fatalf("byte at %#x after Set = %#x; want trap opcode %#x", addr, armedByte, byte(arch.TrapOpcode))
	}

	if err := r.Disarm(addr, tracee); err != nil {
		t.Fatalf("Disarm: %v", err)
	}

	word, err = tracee.ReadWord(addr &^ (ptrace.WordSize - 1))
	if err != nil {
		t.Fatalf("ReadWord after Disarm: %v", err)
	}
	restoredByte := byte(word >> (8 * offset))
	if restoredByte != before {
		t.Errorf("byte at %#x after Disarm = %#x; want original %#x", addr, restoredByte, before)
	}
}
