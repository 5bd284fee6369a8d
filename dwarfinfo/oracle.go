// Package dwarfinfo implements the debug-info oracle: the read-only query
// surface that maps machine addresses to source lines and enclosing
// functions and back, used by the session orchestrator for breakpoint
// resolution and status reporting.
//
// Opens the target with debug/elf and drives debug/dwarf's
// Reader/LineReader directly; the variable-listing helpers below surface
// declarations only; evaluating a DWARF location expression against live
// registers to read a variable's actual value is expression evaluation,
// which is out of scope here.
package dwarfinfo

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nielswarden/deet/errs"
)

// SourceLine names a single line in a source file.
type SourceLine struct {
	File   string
	Number int
}

func (l SourceLine) String() string {
	return fmt.Sprintf("%s:%d", filepath.Base(l.File), l.Number)
}

// Variable is a declared local or parameter name the oracle can see in a
// function's DWARF entry. The oracle only ever exposes declarations; no
// part of deet reads a variable's live value.
type Variable struct {
	Name string
	Type string
}

type function struct {
	name string
	low  uint64
	high uint64
	off  dwarf.Offset
}

// Oracle is the parsed debug-info surface for one target binary. It is
// built once at session startup and never mutated afterwards; construction
// failure is a fatal startup error.
type Oracle struct {
	elfFile   *elf.File
	dwarfData *dwarf.Data
	funcs     []function
}

// New opens path, an ELF binary with embedded DWARF, and indexes its
// functions for lookup. Construction failure (missing file, non-ELF,
// no DWARF) is returned to the caller, who should treat it as a fatal
// startup error.
func New(path string) (*Oracle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer f.Close()

	elfFile, err := elf.NewFile(f)
	if err != nil {
		return nil, errs.Wrap(err)
	}

	dwarfData, err := elfFile.DWARF()
	if err != nil {
		return nil, errs.Wrap(err)
	}

	o := &Oracle{elfFile: elfFile, dwarfData: dwarfData}
	if err := o.indexFunctions(); err != nil {
		return nil, errs.Wrap(err)
	}

	return o, nil
}

func (o *Oracle) indexFunctions() error {
	r := o.dwarfData.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return errs.Wrap(err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}

		name, _ := entry.Val(dwarf.AttrName).(string)
		if name == "" {
			continue
		}

		ranges, err := o.dwarfData.Ranges(entry)
		if err != nil || len(ranges) == 0 {
			continue
		}

		o.funcs = append(o.funcs, function{
			name: name,
			low:  ranges[0][0],
			high: ranges[len(ranges)-1][1],
			off:  entry.Offset,
		})
	}
	return nil
}

// FunctionNames lists every function the oracle indexed, for the
// startup DWARF dump.
func (o *Oracle) FunctionNames() []string {
	names := make([]string, 0, len(o.funcs))
	for _, fn := range o.funcs {
		names = append(names, fn.name)
	}
	return names
}

// LineForAddress resolves a machine address to the source line that
// implements it. Total: returns ok=false rather than an error when the
// address falls outside any known line-table entry.
func (o *Oracle) LineForAddress(addr uint64) (SourceLine, bool) {
	cu, err := o.dwarfData.Reader().SeekPC(addr)
	if err != nil || cu == nil {
		return SourceLine{}, false
	}

	lr, err := o.dwarfData.LineReader(cu)
	if err != nil || lr == nil {
		return SourceLine{}, false
	}

	var entry dwarf.LineEntry
	if err := lr.SeekPC(addr, &entry); err != nil {
		return SourceLine{}, false
	}

	file := ""
	if entry.File != nil {
		file = entry.File.Name
	}
	return SourceLine{File: file, Number: entry.Line}, true
}

// FunctionForAddress returns the name of the innermost function whose
// range contains addr.
func (o *Oracle) FunctionForAddress(addr uint64) (string, bool) {
	for _, fn := range o.funcs {
		if addr >= fn.low && addr < fn.high {
			return fn.name, true
		}
	}
	return "", false
}

// AddressForFunction resolves a function name to its entry address. It
// skips the prologue when the line table offers a later is_stmt line
// still inside the function, so a breakpoint lands after the stack frame
// is set up rather than on the first instruction of the prologue.
func (o *Oracle) AddressForFunction(name string) (uint64, bool) {
	for _, fn := range o.funcs {
		if fn.name != name {
			continue
		}
		return o.skipPrologue(fn), true
	}
	return 0, false
}

func (o *Oracle) skipPrologue(fn function) uint64 {
	cu, err := o.dwarfData.Reader().SeekPC(fn.low)
	if err != nil || cu == nil {
		return fn.low
	}
	lr, err := o.dwarfData.LineReader(cu)
	if err != nil || lr == nil {
		return fn.low
	}

	var entry dwarf.LineEntry
	if err := lr.SeekPC(fn.low, &entry); err != nil {
		return fn.low
	}

	for {
		if err := lr.Next(&entry); err != nil {
			return fn.low
		}
		if entry.Address >= fn.high {
			return fn.low
		}
		if entry.IsStmt {
			return entry.Address
		}
	}
}

// AddressForLine resolves a source line number to the first machine
// address implementing it. file may be empty, in which case any file in
// the target's line tables is considered a match (deet's targets carry a
// single primary source file).
func (o *Oracle) AddressForLine(file string, line int) (uint64, bool) {
	r := o.dwarfData.Reader()
	for {
		cuEntry, err := r.Next()
		if err != nil {
			return 0, false
		}
		if cuEntry == nil {
			break
		}
		if cuEntry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		r.SkipChildren()

		lr, err := o.dwarfData.LineReader(cuEntry)
		if err != nil || lr == nil {
			continue
		}

		var entry dwarf.LineEntry
		best := uint64(0)
		found := false
		for {
			err := lr.Next(&entry)
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}
			if entry.EndSequence || entry.Line != line {
				continue
			}
			if file != "" && entry.File != nil && filepath.Base(entry.File.Name) != filepath.Base(file) {
				continue
			}
			if !found || entry.Address < best {
				best = entry.Address
				found = true
			}
		}
		if found {
			return best, true
		}
	}
	return 0, false
}

// LocalVariables returns the names and declared types of the formal
// parameters and local variables declared directly in addr's enclosing
// function. Variables declared inside nested lexical blocks are not listed,
// and whether a variable is in scope at addr itself is not checked.
// Returns nil if the address doesn't resolve to a known function, or the
// function carries no variable children.
func (o *Oracle) LocalVariables(addr uint64) []Variable {
	var owner *function
	for i := range o.funcs {
		if addr >= o.funcs[i].low && addr < o.funcs[i].high {
			owner = &o.funcs[i]
			break
		}
	}
	if owner == nil {
		return nil
	}

	r := o.dwarfData.Reader()
	r.Seek(owner.off)
	fnEntry, err := r.Next()
	if err != nil || fnEntry == nil || !fnEntry.Children {
		return nil
	}

	var vars []Variable
	depth := 1
	for depth > 0 {
		child, err := r.Next()
		if err != nil || child == nil {
			break
		}
		if child.Tag == 0 {
			depth--
			continue
		}

		atDirectChild := depth == 1
		if child.Children {
			depth++
		}
		if !atDirectChild {
			continue
		}
		if child.Tag != dwarf.TagVariable && child.Tag != dwarf.TagFormalParameter {
			continue
		}

		name, _ := child.Val(dwarf.AttrName).(string)
		if name == "" {
			continue
		}

		typeName := ""
		if toff, ok := child.Val(dwarf.AttrType).(dwarf.Offset); ok {
			if typ, err := o.dwarfData.Type(toff); err == nil {
				typeName = typ.String()
			}
		}

		vars = append(vars, Variable{Name: name, Type: typeName})
	}

	return vars
}
