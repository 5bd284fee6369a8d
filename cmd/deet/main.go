// Command deet is a source-level debugger for ELF/x86-64 executables on
// Linux. Name the target on the command line, then drive it from the
// "(deet) " prompt with run/continue/break/backtrace/quit.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/nielswarden/deet/dwarfinfo"
	"github.com/nielswarden/deet/repl"
	"github.com/nielswarden/deet/session"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-dump-dwarf] <target>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	dumpDwarf := flag.Bool("dump-dwarf", false, "print the target's indexed functions on startup and exit")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	target := flag.Arg(0)

	// The tracer thread and the traced child are a fixed pair for the
	// life of the process: ptrace state (the TRACEME relationship, the
	// ability to wait on the child) belongs to one OS thread. deet is
	// single-threaded and synchronous, so locking once here for the
	// whole run is sufficient and simplest.
	runtime.LockOSThread()

	oracle, err := dwarfinfo.New(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't load debug info from %s: %v\n", target, err)
		os.Exit(1)
	}

	if *dumpDwarf {
		for _, name := range oracle.FunctionNames() {
			fmt.Println(name)
		}
		return
	}

	sess := session.New(target, oracle, os.Stdout)

	if err := repl.Run(sess); err != nil {
		fmt.Fprintln(os.Stderr, "unexpected I/O error:", err)
		os.Exit(1)
	}
}
