// Package session implements the session orchestrator (component D): the
// command-level operations run/continue/break/backtrace/quit, the
// breakpoint repair protocol that lets a tracee cross a trap exactly once,
// and the status-reporting policy.
//
// Modeled on the control flow of Debugger::run's match arms in the
// original "deet" debugger this was ported from: small exported methods
// on a struct that owns a tracee controller and a breakpoint registry,
// errors surfaced with errs.TracedError the way the rest of this module
// does.
package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nielswarden/deet/breakpoint"
	"github.com/nielswarden/deet/dwarfinfo"
	"github.com/nielswarden/deet/ptrace"
)

// Session holds the debug-info oracle, the tracee controller and the
// breakpoint registry for one debugging run. It owns the tracee
// exclusively: nothing else in deet is allowed to kill, wait on, or step
// the child process.
type Session struct {
	targetPath  string
	oracle      *dwarfinfo.Oracle
	registry    *breakpoint.Registry
	tracee      *ptrace.Tracee
	sourceLines []string
	out         io.Writer
}

// New builds a Session for targetPath using an already-constructed oracle.
// It attempts to load targetPath+".c" for source-context display; a
// missing source file is not an error, just reduced status reports (source
// display is optional).
func New(targetPath string, oracle *dwarfinfo.Oracle, out io.Writer) *Session {
	return &Session{
		targetPath:  targetPath,
		oracle:      oracle,
		registry:    breakpoint.NewRegistry(),
		sourceLines: loadSourceLines(targetPath + ".c"),
		out:         out,
	}
}

func loadSourceLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// HasTracee reports whether a tracee currently exists.
func (s *Session) HasTracee() bool {
	return s.tracee != nil
}

// Run kills and reaps any existing tracee, spawns a new one with argv,
// and executes the continue protocol to let it proceed from the initial
// trap. Breakpoints already in the registry (set before any tracee
// existed, or left over from a previous run) are armed by Spawn before
// this returns.
func (s *Session) Run(argv []string) {
	if s.tracee != nil {
		s.tracee.Kill()
		s.tracee = nil
	}

	tracee, err := ptrace.Spawn(s.targetPath, argv, s.registry)
	if err != nil {
		fmt.Fprintf(s.out, "couldn't spawn %s: %v\n", s.targetPath, err)
		return
	}

	s.tracee = tracee
	s.continueProtocol()
}

// Continue resumes a stopped tracee via the continue protocol. Reports
// and returns if no tracee exists.
func (s *Session) Continue() {
	if s.tracee == nil {
		fmt.Fprintln(s.out, "no process is currently being run")
		return
	}
	s.continueProtocol()
}

// continueProtocol is the central repair algorithm: if the current stop
// was caused by a breakpoint, disarm it, rewind past it, single-step the
// original instruction, re-arm, and only then continue.
func (s *Session) continueProtocol() {
	regs, err := s.tracee.GetRegs()
	if err != nil {
		fmt.Fprintln(s.out, "couldn't read registers:", err)
		return
	}

	ip := regs.PC
	if ip != 0 {
		if rec, ok := s.registry.Find(ip - 1); ok {
			if err := s.registry.Disarm(rec.Address, s.tracee); err != nil {
				fmt.Fprintln(s.out, "couldn't disarm breakpoint:", err)
			} else {
				regs.PC = rec.Address
				if err := s.tracee.SetRegs(regs); err != nil {
					fmt.Fprintln(s.out, "couldn't rewind past breakpoint:", err)
					return
				}

				status, err := s.tracee.SingleStep()
				if err != nil {
					fmt.Fprintln(s.out, "couldn't step over breakpoint:", err)
					return
				}
				if status.Kind != ptrace.Stopped {
					s.reportStatus(status)
					s.tracee = nil
					return
				}

				if err := s.registry.Rearm(rec.Address, s.tracee); err != nil {
					// Invariant is broken for this address until recovered;
					// the debugger itself stays usable.
					fmt.Fprintln(s.out, "warning: couldn't re-arm breakpoint:", err)
				}
			}
		}
	}

	status, err := s.tracee.Continue()
	if err != nil {
		fmt.Fprintln(s.out, "couldn't continue:", err)
		return
	}
	s.reportStatus(status)
	if status.Kind != ptrace.Stopped {
		// Exited or Signaled: Wait has already reaped the child.
		s.tracee = nil
	}
}

// Break resolves spec to an address (raw hex, source line, or function
// name, tried in that order) and registers a breakpoint there. If a
// tracee is live and stopped, the breakpoint is armed immediately;
// otherwise it is recorded and armed the next time a tracee is spawned.
func (s *Session) Break(spec string) {
	addr, err := s.resolveBreakSpec(spec)
	if err != nil {
		fmt.Fprintln(s.out, "couldn't resolve breakpoint:", err)
		return
	}

	if err := s.registry.Set(addr, s.tracee); err != nil {
		fmt.Fprintln(s.out, "couldn't set breakpoint:", err)
		return
	}

	if s.tracee != nil {
		fmt.Fprintf(s.out, "set breakpoint at %#x\n", addr)
	} else {
		fmt.Fprintf(s.out, "set breakpoint at %#x (deferred until run)\n", addr)
	}
}

func (s *Session) resolveBreakSpec(spec string) (uintptr, error) {
	if strings.HasPrefix(strings.ToLower(spec), "*0x") {
		n, err := strconv.ParseUint(spec[3:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("bad address %q: %w", spec, err)
		}
		return uintptr(n), nil
	}

	if line, err := strconv.Atoi(spec); err == nil {
		addr, ok := s.oracle.AddressForLine("", line)
		if !ok {
			return 0, fmt.Errorf("no code at line %d", line)
		}
		return uintptr(addr), nil
	}

	addr, ok := s.oracle.AddressForFunction(spec)
	if !ok {
		return 0, fmt.Errorf("no function named %q", spec)
	}
	return uintptr(addr), nil
}

// Backtrace walks the frame-pointer chain starting at the current
// instruction/base pointer, printing one line per frame until it reaches
// main or hits an unresolved or unreadable frame.
func (s *Session) Backtrace() {
	if s.tracee == nil {
		fmt.Fprintln(s.out, "no process is currently being run")
		return
	}

	regs, err := s.tracee.GetRegs()
	if err != nil {
		fmt.Fprintln(s.out, "couldn't read registers:", err)
		return
	}

	ip, bp := regs.PC, regs.BP
	for {
		name, ok := s.oracle.FunctionForAddress(uint64(ip))
		if !ok {
			fmt.Fprintf(s.out, "#  %#x in ?? ()\n", ip)
			return
		}

		if line, ok := s.oracle.LineForAddress(uint64(ip)); ok {
			fmt.Fprintf(s.out, "%s (%s)\n", name, line)
		} else {
			fmt.Fprintf(s.out, "%s\n", name)
		}

		if name == "main" {
			return
		}

		retAddr, err := s.tracee.ReadWord(bp + ptrace.WordSize)
		if err != nil {
			fmt.Fprintln(s.out, "couldn't read return address:", err)
			return
		}
		savedBP, err := s.tracee.ReadWord(bp)
		if err != nil {
			fmt.Fprintln(s.out, "couldn't read saved frame pointer:", err)
			return
		}

		ip = uintptr(retAddr)
		bp = uintptr(savedBP)
	}
}

// Quit kills and reaps any live tracee. Safe to call with no tracee.
func (s *Session) Quit() {
	if s.tracee != nil {
		s.tracee.Kill()
		s.tracee = nil
	}
}
