package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStateFileClaimRelease(t *testing.T) {
	dir := t.TempDir()
	sf := newStateFile(dir)

	// Initially empty
	rec, err := sf.load()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil, got %v", rec)
	}

	self := os.Getpid()
	if err := sf.claim(InstanceRecord{PID: self, Socket: "/tmp/aegis.sock"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	rec, err = sf.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec == nil || rec.PID != self || rec.Socket != "/tmp/aegis.sock" {
		t.Errorf("unexpected record %+v", rec)
	}

	// Re-claiming by the same process succeeds
	if err := sf.claim(InstanceRecord{PID: self}); err != nil {
		t.Errorf("re-claim: %v", err)
	}

	if err := sf.release(self); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state.json")); !os.IsNotExist(err) {
		t.Errorf("expected state file to be removed, got %v", err)
	}
}

func TestStateFileRejectsLiveInstance(t *testing.T) {
	sf := newStateFile(t.TempDir())

	// The parent of the test binary is alive for the duration of the test.
	if err := sf.claim(InstanceRecord{PID: os.Getppid()}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	err := sf.claim(InstanceRecord{PID: os.Getpid()})
	if err == nil || !strings.Contains(err.Error(), "another aegis daemon") {
		t.Fatalf("expected claim to be rejected, got %v", err)
	}

	// Release by a non-owner leaves the record alone
	if err := sf.release(os.Getpid()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec, _ := sf.load(); rec == nil {
		t.Error("expected record to survive release by non-owner")
	}
}

func TestStateFileTakesOverStaleInstance(t *testing.T) {
	sf := newStateFile(t.TempDir())

	// PIDs this large are never allocated.
	if err := sf.claim(InstanceRecord{PID: 1 << 30}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := sf.claim(InstanceRecord{PID: os.Getpid()}); err != nil {
		t.Errorf("expected stale record to be replaced, got %v", err)
	}
}
