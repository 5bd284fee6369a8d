package session

import (
	"fmt"
	"strings"

	"github.com/nielswarden/deet/ptrace"
)

// reportStatus implements the status-reporting policy: exited
// prints the code, signaled prints the terminating signal, and stopped
// prints the signal plus, when the oracle can resolve the instruction
// pointer, the enclosing function, the source line, a short context
// window and any local variables the oracle exposes.
func (s *Session) reportStatus(status ptrace.Status) {
	switch status.Kind {
	case ptrace.Exited:
		fmt.Fprintf(s.out, "child exited (status %d)\n", status.Code)

	case ptrace.Signaled:
		fmt.Fprintf(s.out, "child terminated by signal %s\n", status.Signal)

	case ptrace.Stopped:
		fmt.Fprintf(s.out, "child stopped (signal %s)\n", status.Signal)
		s.reportStopLocation(uint64(status.PC))
	}
}

func (s *Session) reportStopLocation(pc uint64) {
	line, lineOK := s.oracle.LineForAddress(pc)
	name, nameOK := s.oracle.FunctionForAddress(pc)

	switch {
	case nameOK && lineOK:
		fmt.Fprintf(s.out, "stopped in %s at %s\n", name, line)
	case nameOK:
		fmt.Fprintf(s.out, "stopped in %s\n", name)
	default:
		return
	}

	if lineOK {
		s.printSourceContext(line.Number)
	}

	if vars := s.oracle.LocalVariables(pc); len(vars) > 0 {
		descr := make([]string, len(vars))
		for i, v := range vars {
			if v.Type != "" {
				descr[i] = fmt.Sprintf("%s %s", v.Type, v.Name)
			} else {
				descr[i] = v.Name
			}
		}
		fmt.Fprintf(s.out, "locals: %s\n", strings.Join(descr, ", "))
	}
}

// printSourceContext prints a three-line window centered on line, using
// the primary source file loaded at session construction. Silent no-op if
// the source file wasn't found; lines of the window that fall outside the
// file are skipped.
func (s *Session) printSourceContext(line int) {
	if len(s.sourceLines) == 0 {
		return
	}

	start := line - 1
	if start < 1 {
		start = 1
	}
	end := line + 1

	for n := start; n <= end; n++ {
		if n < 1 || n > len(s.sourceLines) {
			continue
		}
		marker := "   "
		if n == line {
			marker = "-> "
		}
		fmt.Fprintf(s.out, "%s%4d\t%s\n", marker, n, s.sourceLines[n-1])
	}
}
