// Package ptrace implements the tracee-control subsystem: spawning a child
// under ptrace, the wait/signal state machine, single-step and continue,
// and word-granular reads/writes of the tracee's address space.
//
// Wraps the same syscall.Ptrace* primitives a tracer-goroutine design
// would, collapsed into a single-threaded controller since deet never runs
// more than one command at a time and never traces more than one thread.
package ptrace

import (
	"encoding/binary"
	"os"
	"os/exec"
	"syscall"

	"github.com/nielswarden/deet/errs"
)

// WordSize is the native pointer width ptrace peeks/pokes operate on.
const WordSize = 8

// nativeEndian is the byte order x86-64 Linux uses, matching the order
// PtracePeekData/PtracePokeData hand back raw words in.
var nativeEndian = binary.LittleEndian

// Kind distinguishes the terminal and non-terminal shapes a Status can take.
type Kind int

const (
	// Stopped means the tracee is suspended and its registers/memory may
	// be read and written.
	Stopped Kind = iota
	// Exited means the tracee ran to completion.
	Exited
	// Signaled means the tracee was killed by a signal.
	Signaled
)

// Status is the outcome of a Wait, Continue or SingleStep.
type Status struct {
	Kind   Kind
	Signal syscall.Signal // valid for Stopped and Signaled
	PC     uintptr        // valid for Stopped
	Code   int            // valid for Exited
}

// Regs holds the registers the debugger core needs: the instruction
// pointer and base (frame) pointer used for breakpoint repair and
// backtrace walking.
type Regs struct {
	PC uintptr
	BP uintptr
	SP uintptr
}

// Armer installs TRAP bytes for every breakpoint it knows about. Tracee
// depends on this interface, not on the breakpoint package directly, to
// keep the registry free to outlive any one Tracee.
type Armer interface {
	ArmAll(t *Tracee) error
}

// Tracee is a live, traced child process.
type Tracee struct {
	pid  int
	proc *os.Process
}

// Spawn launches path with argv as a traced child. Tracing is requested
// before exec (via Ptrace: true in SysProcAttr) so the very first
// instruction of the new image raises SIGTRAP. Spawn waits once; only if
// that wait reports Stopped with SIGTRAP does it arm every breakpoint in
// registry and return a live Tracee. Any other outcome is an error and no
// Tracee is retained.
func Spawn(path string, argv []string, registry Armer) (*Tracee, error) {
	cmd := exec.Command(path, argv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	// ptrace is a per-thread relationship: whichever OS thread waits on
	// the child must be the one that started it. The caller (the session
	// orchestrator, driven from main) is expected to have already called
	// runtime.LockOSThread for the lifetime of the program.
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(err)
	}

	t := &Tracee{pid: cmd.Process.Pid, proc: cmd.Process}

	status, err := t.Wait()
	if err != nil {
		t.Kill()
		return nil, errs.Wrap(err)
	}
	if status.Kind != Stopped || status.Signal != syscall.SIGTRAP {
		t.Kill()
		return nil, errs.Errorf("unexpected status on initial stop: %+v", status)
	}

	if registry != nil {
		if err := registry.ArmAll(t); err != nil {
			t.Kill()
			return nil, errs.Wrap(err)
		}
	}

	return t, nil
}

// PID returns the tracee's process id.
func (t *Tracee) PID() int {
	return t.pid
}

// Continue resumes the tracee and waits for its next stop.
func (t *Tracee) Continue() (Status, error) {
	if err := syscall.PtraceCont(t.pid, 0); err != nil {
		return Status{}, errs.Wrap(err)
	}
	return t.Wait()
}

// SingleStep executes exactly one instruction and waits for the resulting
// stop.
func (t *Tracee) SingleStep() (Status, error) {
	if err := syscall.PtraceSingleStep(t.pid); err != nil {
		return Status{}, errs.Wrap(err)
	}
	return t.Wait()
}

// Wait blocks until the tracee changes state. On a Stopped result it also
// reads the instruction pointer so callers never need a second round trip.
func (t *Tracee) Wait() (Status, error) {
	var ws syscall.WaitStatus
	_, err := syscall.Wait4(t.pid, &ws, 0, nil)
	if err != nil {
		return Status{}, errs.Wrap(err)
	}

	switch {
	case ws.Exited():
		return Status{Kind: Exited, Code: ws.ExitStatus()}, nil

	case ws.Signaled():
		return Status{Kind: Signaled, Signal: ws.Signal()}, nil

	case ws.Stopped():
		regs, err := t.GetRegs()
		if err != nil {
			return Status{}, errs.Wrap(err)
		}
		return Status{Kind: Stopped, Signal: ws.StopSignal(), PC: regs.PC}, nil

	default:
		panic(errs.Errorf("waitpid returned unexpected status: %+v", ws))
	}
}

// GetRegs reads the tracee's general-purpose registers.
func (t *Tracee) GetRegs() (*Regs, error) {
	var pregs syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(t.pid, &pregs); err != nil {
		return nil, errs.Wrap(err)
	}
	return &Regs{
		PC: uintptr(pregs.Rip),
		BP: uintptr(pregs.Rbp),
		SP: uintptr(pregs.Rsp),
	}, nil
}

// SetRegs writes the tracee's instruction, frame and stack pointers back.
// Other registers are left untouched: deet only sets registers for the
// repair-protocol rewind.
func (t *Tracee) SetRegs(r *Regs) error {
	var pregs syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(t.pid, &pregs); err != nil {
		return errs.Wrap(err)
	}
	pregs.Rip = uint64(r.PC)
	pregs.Rbp = uint64(r.BP)
	pregs.Rsp = uint64(r.SP)
	if err := syscall.PtraceSetRegs(t.pid, &pregs); err != nil {
		return errs.Wrap(err)
	}
	return nil
}

func align(addr uintptr) uintptr {
	return addr &^ uintptr(WordSize-1)
}

// ReadWord reads one word-aligned machine word starting at addr.
func (t *Tracee) ReadWord(addr uintptr) (uint64, error) {
	buf := make([]byte, WordSize)
	if _, err := syscall.PtracePeekData(t.pid, addr, buf); err != nil {
		return 0, errs.Wrap(err)
	}
	return nativeEndian.Uint64(buf), nil
}

// WriteWord writes one word-aligned machine word at addr.
func (t *Tracee) WriteWord(addr uintptr, word uint64) error {
	buf := make([]byte, WordSize)
	nativeEndian.PutUint64(buf, word)
	if _, err := syscall.PtracePokeData(t.pid, addr, buf); err != nil {
		return errs.Wrap(err)
	}
	return nil
}

// WriteByte splices value into the byte at addr, leaving the rest of the
// containing word untouched, and returns the byte that was there before.
// This is the only memory-write primitive the breakpoint engine uses; the
// tracee must be stopped for the whole read-modify-write to be atomic from
// its perspective.
func (t *Tracee) WriteByte(addr uintptr, value byte) (byte, error) {
	base := align(addr)
	offset := int(addr - base)

	word, err := t.ReadWord(base)
	if err != nil {
		return 0, errs.Wrap(err)
	}

	buf := make([]byte, WordSize)
	nativeEndian.PutUint64(buf, word)

	original := buf[offset]
	buf[offset] = value

	if err := t.WriteWord(base, nativeEndian.Uint64(buf)); err != nil {
		return 0, errs.Wrap(err)
	}

	return original, nil
}

// Kill sends a fatal signal to the tracee and reaps it. Idempotent:
// killing an already-dead tracee is not reported as an error.
func (t *Tracee) Kill() error {
	if t.proc == nil {
		return nil
	}

	err := syscall.Kill(t.pid, syscall.SIGKILL)
	if err != nil && err != syscall.ESRCH {
		return errs.Wrap(err)
	}

	var ws syscall.WaitStatus
	syscall.Wait4(t.pid, &ws, 0, nil) // best effort: reap regardless of Kill's outcome

	t.proc = nil
	return nil
}
