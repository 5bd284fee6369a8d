package session_test

// End-to-end exercise of the session orchestrator against a real traced
// process ("breakpoint on entry" followed by "continue after breakpoint
// fires"): build a tiny known binary, set a breakpoint by function name
// before any tracee exists, run, and check the child stops at the
// breakpoint and then exits cleanly on continue.

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/nielswarden/deet/dwarfinfo"
	"github.com/nielswarden/deet/session"
)

func buildTarget(t *testing.T) string {
	t.Helper()

	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("deet only targets linux/amd64 ELF binaries")
	}

	dir := t.TempDir()
	out := filepath.Join(dir, "target")

	cmd := exec.Command("go", "build", "-o", out, "-gcflags=all=-N -l", "./testdata/target.go")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("couldn't build test fixture (no working Go toolchain in this environment): %v\n%s", err, output)
	}

	return out
}

func TestBreakpointOnEntryThenContinueToExit(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	targetPath := buildTarget(t)

	oracle, err := dwarfinfo.New(targetPath)
	if err != nil {
		t.Fatalf("dwarfinfo.New: %v", err)
	}

	var out bytes.Buffer
	sess := session.New(targetPath, oracle, &out)
	defer sess.Quit()

	sess.Break("main.foo")
	if strings.Contains(out.String(), "couldn't") {
		t.Fatalf("Break(main.foo) failed: %s", out.String())
	}
	out.Reset()

	sess.Run(nil)
	report := out.String()
	if !strings.Contains(report, "main.foo") {
		t.Fatalf("Run() report = %q; want it to mention main.foo", report)
	}
	if !sess.HasTracee() {
		t.Fatalf("HasTracee() = false after a breakpoint stop; want true")
	}
	out.Reset()

	sess.Continue()
	report = out.String()
	if !strings.Contains(report, "exited") {
		t.Fatalf("Continue() report = %q; want it to report the child exiting", report)
	}
}
