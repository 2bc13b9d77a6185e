package security

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ttulttul/localgpt/internal/audit"
)

func TestWatcherEmitsFileChanged(t *testing.T) {
	base := t.TempDir()
	workspace := filepath.Join(base, "workspace")
	stateDir := filepath.Join(base, "state")
	os.MkdirAll(workspace, 0755)
	os.MkdirAll(stateDir, 0700)

	auditLog := audit.New(stateDir)
	w, err := NewPolicyWatcher(workspace, auditLog)
	if err != nil {
		t.Fatalf("NewPolicyWatcher: %v", err)
	}
	w.debounce = 50 * time.Millisecond
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	os.WriteFile(filepath.Join(workspace, PolicyFilename), []byte("# changed\n"), 0644)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		records, _ := auditLog.Read()
		if len(records) > 0 {
			e := records[0].Entry
			if e == nil || e.Action != audit.ActionFileChanged {
				t.Fatalf("unexpected first entry: %+v", records[0])
			}
			if e.Source != "file_watcher" {
				t.Errorf("source = %q", e.Source)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no file_changed entry within deadline")
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	base := t.TempDir()
	workspace := filepath.Join(base, "workspace")
	stateDir := filepath.Join(base, "state")
	os.MkdirAll(workspace, 0755)
	os.MkdirAll(stateDir, 0700)

	auditLog := audit.New(stateDir)
	w, err := NewPolicyWatcher(workspace, auditLog)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	os.WriteFile(filepath.Join(workspace, "MEMORY.md"), []byte("notes"), 0644)
	time.Sleep(200 * time.Millisecond)

	records, _ := auditLog.Read()
	if len(records) != 0 {
		t.Errorf("unrelated file change produced %d audit entries", len(records))
	}
}
