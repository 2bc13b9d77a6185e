package security

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ttulttul/localgpt/internal/audit"
)

// PolicyWatcher observes the policy file for mid-session modifications.
//
// A change emits a file_changed audit entry and a warning - nothing more.
// The in-session cached policy is deliberately NOT invalidated: swapping
// the policy mid-session would race against in-flight turns, and the next
// session start re-verifies from disk anyway.
type PolicyWatcher struct {
	workspace string
	auditLog  *audit.Log
	watcher   *fsnotify.Watcher
	stopChan  chan struct{}
	wg        sync.WaitGroup

	// Debounce rapid editor save sequences (write + rename + chmod).
	debounce time.Duration
	timerMu  sync.Mutex
	timer    *time.Timer
}

// NewPolicyWatcher creates a watcher for <workspace>/LocalGPT.md.
func NewPolicyWatcher(workspace string, auditLog *audit.Log) (*PolicyWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PolicyWatcher{
		workspace: workspace,
		auditLog:  auditLog,
		watcher:   fsWatcher,
		stopChan:  make(chan struct{}),
		debounce:  500 * time.Millisecond,
	}, nil
}

// Start begins watching. The workspace directory (not the file) is watched
// so that editors replacing the file via rename are still observed.
func (w *PolicyWatcher) Start() error {
	if err := w.watcher.Add(w.workspace); err != nil {
		log.Warn("cannot watch workspace (may not exist yet): %v", err)
		return nil
	}

	w.wg.Add(1)
	go w.run()
	log.Debug("watching %s for policy changes", w.workspace)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *PolicyWatcher) Stop() error {
	close(w.stopChan)
	w.wg.Wait()

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()
	return w.watcher.Close()
}

func (w *PolicyWatcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != PolicyFilename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleNotify()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("policy watcher error: %v", err)
		}
	}
}

// scheduleNotify coalesces a burst of events into one notification.
func (w *PolicyWatcher) scheduleNotify() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.notify)
}

func (w *PolicyWatcher) notify() {
	log.Warn("%s modified mid-session; the in-session policy is unchanged until restart", PolicyFilename)
	w.auditLog.AppendBestEffort(audit.ActionFileChanged, "", "file_watcher",
		PolicyFilename+" modified during active session")
}
