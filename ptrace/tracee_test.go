package ptrace_test

// Integration tests against a real child process, in the style of
// jackc-delve's proctl_test.go (helper.WithTestProcess): these spawn an
// actual traced process rather than mocking ptrace.

import (
	"runtime"
	"testing"

	"github.com/nielswarden/deet/ptrace"
)

type noBreakpoints struct{}

func (noBreakpoints) ArmAll(*ptrace.Tracee) error { return nil }

func TestSpawnStopsOnInitialTrap(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tracee, err := ptrace.Spawn("/bin/true", nil, noBreakpoints{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer tracee.Kill()

	if tracee.PID() <= 0 {
		t.Fatalf("PID() = %d; want positive", tracee.PID())
	}
}

func TestContinueRunsToExit(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tracee, err := ptrace.Spawn("/bin/true", nil, noBreakpoints{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer tracee.Kill()

	status, err := tracee.Continue()
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if status.Kind != ptrace.Exited {
		t.Fatalf("status.Kind = %v; want Exited", status.Kind)
	}
	if status.Code != 0 {
		t.Errorf("status.Code = %d; want 0", status.Code)
	}
}

func TestWriteByteRoundTrips(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tracee, err := ptrace.Spawn("/bin/true", nil, noBreakpoints{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer tracee.Kill()

	regs, err := tracee.GetRegs()
	if err != nil {
		t.Fatalf("GetRegs: %v", err)
	}
	addr := regs.PC

	original, err := tracee.WriteByte(addr, 0xcc)
	if err != nil {
		t.Fatalf("WriteByte(trap): %v", err)
	}

	restored, err := tracee.WriteByte(addr, original)
	if err != nil {
		t.Fatalf("WriteByte(restore): %v", err)
	}
	if restored != 0xcc {
		t.Errorf("WriteByte(restore) returned %#x; want 0xcc (the trap byte it replaced)", restored)
	}

	// After the trap write and the restore, reading the word should show
	// the original byte in place.
	word, err := tracee.ReadWord(addr &^ (ptrace.WordSize - 1))
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	offset := int(addr) % ptrace.WordSize
	gotByte := byte(word >> (8 * offset))
	if gotByte != original {
		t.Errorf("byte at %#x after round trip = %#x; want %#x", addr, gotByte, original)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tracee, err := ptrace.Spawn("/bin/true", nil, noBreakpoints{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := tracee.Kill(); err != nil {
		t.Fatalf("first Kill: %v", err)
	}
	if err := tracee.Kill(); err != nil {
		t.Fatalf("second Kill on an already-dead tracee should be a no-op, got: %v", err)
	}
}
