// Package breakpoint implements the software-breakpoint registry: the
// address -> saved-original-byte map, and the arm/disarm operations over a
// tracee that install and remove the trap opcode.
//
// A single Breakpoint with Enable/Disable over a Process generalizes here
// into a registry, so breakpoints set before a tracee exists survive to the
// next run and get applied the next time one is spawned.
package breakpoint

import (
	"github.com/nielswarden/deet/arch"
	"github.com/nielswarden/deet/errs"
	"github.com/nielswarden/deet/ptrace"
)

// Record is a single breakpoint. OriginalByte is meaningful only once the
// breakpoint has been armed in a live tracee; before that it is a
// zero-value placeholder to be filled in at the next arm.
type Record struct {
	Address      uintptr
	OriginalByte byte
}

// Registry is the address -> Record map. It outlives any one Tracee: set
// is legal with no tracee at all, and arming is re-applied to every new
// tracee a session spawns.
type Registry struct {
	records map[uintptr]*Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[uintptr]*Record)}
}

// Set installs a breakpoint at addr. If tracee is nil, the record is
// inserted with a placeholder OriginalByte to be filled in at the next
// arm. If tracee is non-nil (and stopped), the trap byte is written
// immediately and OriginalByte is populated from the live process.
func (r *Registry) Set(addr uintptr, tracee *ptrace.Tracee) error {
	if tracee == nil {
		r.records[addr] = &Record{Address: addr}
		return nil
	}

	original, err := tracee.WriteByte(addr, arch.TrapOpcode)
	if err != nil {
		return errs.Wrap(err)
	}

	r.records[addr] = &Record{Address: addr, OriginalByte: original}
	return nil
}

// ArmAll writes the trap opcode at every registered address and refreshes
// each record's OriginalByte from what was actually there. Called by
// ptrace.Spawn immediately after the tracee's initial stop; satisfies
// ptrace.Armer.
func (r *Registry) ArmAll(tracee *ptrace.Tracee) error {
	for _, rec := range r.records {
		original, err := tracee.WriteByte(rec.Address, arch.TrapOpcode)
		if err != nil {
			return errs.Errorf("arming breakpoint at %#x: %v", rec.Address, err)
		}
		rec.OriginalByte = original
	}
	return nil
}

// Disarm restores the original byte at addr, undoing a previous arm. Used
// by the continue protocol's repair step.
func (r *Registry) Disarm(addr uintptr, tracee *ptrace.Tracee) error {
	rec, ok := r.records[addr]
	if !ok {
		return errs.Errorf("no breakpoint registered at %#x", addr)
	}
	if _, err := tracee.WriteByte(addr, rec.OriginalByte); err != nil {
		return errs.Wrap(err)
	}
	return nil
}

// Rearm writes the trap opcode back at addr and refreshes OriginalByte.
// Used by the continue protocol after a repaired instruction has executed.
func (r *Registry) Rearm(addr uintptr, tracee *ptrace.Tracee) error {
	rec, ok := r.records[addr]
	if !ok {
		return errs.Errorf("no breakpoint registered at %#x", addr)
	}
	original, err := tracee.WriteByte(addr, arch.TrapOpcode)
	if err != nil {
		return errs.Wrap(err)
	}
	rec.OriginalByte = original
	return nil
}

// Find returns the record at addr, if any.
func (r *Registry) Find(addr uintptr) (*Record, bool) {
	rec, ok := r.records[addr]
	return rec, ok
}

// Iterate calls fn for every registered record. Iteration order is
// unspecified.
func (r *Registry) Iterate(fn func(*Record)) {
	for _, rec := range r.records {
		fn(rec)
	}
}

// Len reports how many breakpoints are registered.
func (r *Registry) Len() int {
	return len(r.records)
}
