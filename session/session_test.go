package session

import (
	"bytes"
	"testing"

	"github.com/nielswarden/deet/breakpoint"
)

func TestResolveBreakSpecRawAddress(t *testing.T) {
	s := &Session{out: &bytes.Buffer{}}

	addr, err := s.resolveBreakSpec("*0x1A")
	if err != nil {
		t.Fatalf("resolveBreakSpec(*0x1A): %v", err)
	}
	if addr != 0x1a {
		t.Errorf("resolveBreakSpec(*0x1A) = %#x; want 0x1a", addr)
	}
}

func TestResolveBreakSpecRawAddressIsCaseInsensitive(t *testing.T) {
	s := &Session{out: &bytes.Buffer{}}

	addr, err := s.resolveBreakSpec("*0XFF")
	if err != nil {
		t.Fatalf("resolveBreakSpec(*0XFF): %v", err)
	}
	if addr != 0xff {
		t.Errorf("resolveBreakSpec(*0XFF) = %#x; want 0xff", addr)
	}
}

func TestResolveBreakSpecBadHexIsAnError(t *testing.T) {
	s := &Session{out: &bytes.Buffer{}}

	if _, err := s.resolveBreakSpec("*0xzz"); err == nil {
		t.Errorf("resolveBreakSpec(*0xzz) succeeded; want an error for malformed hex")
	}
}

func TestBreakBeforeAnyTraceeIsDeferred(t *testing.T) {
	out := &bytes.Buffer{}
	s := &Session{out: out, registry: breakpoint.NewRegistry()}

	s.Break("*0x2000")

	if _, ok := s.registry.Find(0x2000); !ok {
		t.Fatalf("Break did not register an address with no tracee present")
	}
	if out.Len() == 0 {
		t.Errorf("Break printed nothing; want a confirmation message")
	}
}
