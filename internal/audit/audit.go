// Package audit implements the append-only, hash-chained security audit log.
//
// One JSON object per line (JSONL), stored in the state directory outside
// the workspace. Each entry carries the SHA-256 of the previous line,
// forming a tamper-evident chain. The first entry of the log links to a
// genesis hash of 64 zeros; a corrupted last line starts a new segment via
// a chain_recovery entry that links to the hash of the corrupted bytes.
//
// The log is observability, not enforcement: append failures never block
// policy verification or command execution, and chain corruption gates
// nothing.
package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ttulttul/localgpt/internal/fileutil"
	"github.com/ttulttul/localgpt/internal/logger"
)

var log = logger.New("audit")

// Filename of the audit log inside the state directory.
const Filename = "localgpt.audit.jsonl"

// GenesisHash links the first entry of the log (no predecessor).
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action is a security event recorded in the audit log.
type Action string

const (
	ActionCreated           Action = "created"
	ActionSigned            Action = "signed"
	ActionVerified          Action = "verified"
	ActionTamperDetected    Action = "tamper_detected"
	ActionMissing           Action = "missing"
	ActionUnsigned          Action = "unsigned"
	ActionManifestCorrupted Action = "manifest_corrupted"
	ActionSuspiciousContent Action = "suspicious_content"
	ActionFileChanged       Action = "file_changed"
	ActionWriteBlocked      Action = "write_blocked"
	ActionChainRecovery     Action = "chain_recovery"
)

// Valid returns true if the action is part of the closed set.
func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionSigned, ActionVerified, ActionTamperDetected,
		ActionMissing, ActionUnsigned, ActionManifestCorrupted,
		ActionSuspiciousContent, ActionFileChanged, ActionWriteBlocked,
		ActionChainRecovery:
		return true
	}
	return false
}

// SourceAuditSystem tags entries synthesized by the chain itself.
const SourceAuditSystem = "audit_system"

// Entry is a single audit log record.
type Entry struct {
	// TS is the ISO 8601 timestamp of the event.
	TS string `json:"ts"`
	// Action is what security event occurred.
	Action Action `json:"action"`
	// ContentSHA256 is the hex SHA-256 of the referenced content, empty if N/A.
	ContentSHA256 string `json:"content_sha256"`
	// PrevEntrySHA256 is the hex SHA-256 of the previous JSONL line.
	PrevEntrySHA256 string `json:"prev_entry_sha256"`
	// Source is who triggered the event: cli, gui, session_start,
	// file_watcher, tool:<name>, heartbeat, or audit_system.
	Source string `json:"source"`
	// Detail is optional free-form context (blocked path, pattern names).
	Detail string `json:"detail,omitempty"`
}

// Log is the append handle for one audit file. A single process-wide mutex
// serializes (read-last-line, write-entry) pairs; readers take no lock and
// parse lines independently.
type Log struct {
	mu   sync.Mutex
	path string
}

// New returns a Log rooted in the given state directory. The file itself is
// created lazily on first append.
func New(stateDir string) *Log {
	return &Log{path: filepath.Join(stateDir, Filename)}
}

// Path returns the audit file location.
func (l *Log) Path() string {
	return l.path
}

// Append writes one entry linking to the current chain tip.
func (l *Log) Append(action Action, contentSHA256, source string) error {
	return l.AppendDetail(action, contentSHA256, source, "")
}

// AppendDetail writes one entry with an optional detail message.
//
// If the last line of the file is present but not parseable, a
// chain_recovery entry is appended first: its prev hash covers the raw
// corrupted bytes, and the requested entry links to the recovery entry,
// starting a new segment.
func (l *Log) AppendDetail(action Action, contentSHA256, source, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, err := l.chainTip()
	if err != nil {
		return err
	}

	entry := Entry{
		TS:              time.Now().UTC().Format(time.RFC3339),
		Action:          action,
		ContentSHA256:   contentSHA256,
		PrevEntrySHA256: prev,
		Source:          source,
		Detail:          detail,
	}
	return l.appendLine(entry)
}

// chainTip computes the prev hash for the next entry, writing a recovery
// entry when the current tail is corrupted. Caller holds the mutex.
func (l *Log) chainTip() (string, error) {
	last, state, err := readLastLine(l.path)
	if err != nil {
		return "", err
	}

	switch state {
	case tailMissing, tailEmpty:
		return GenesisHash, nil
	case tailValid:
		return sha256Hex(last), nil
	default: // tailCorrupted
		recovery := Entry{
			TS:              time.Now().UTC().Format(time.RFC3339),
			Action:          ActionChainRecovery,
			PrevEntrySHA256: sha256Hex(last),
			Source:          SourceAuditSystem,
			Detail:          fmt.Sprintf("previous entry corrupted (%d bytes), new chain segment", len(last)),
		}
		line, err := json.Marshal(recovery)
		if err != nil {
			return "", err
		}
		if err := l.writeLine(line); err != nil {
			return "", err
		}
		return sha256Hex(line), nil
	}
}

func (l *Log) appendLine(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("serialize audit entry: %w", err)
	}
	return l.writeLine(line)
}

// writeLine appends a single line atomically: the file is opened O_APPEND
// and the line plus newline go out in one write.
func (l *Log) writeLine(line []byte) error {
	f, err := fileutil.SecureAppendFile(l.path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// tailState classifies the last line of the audit file.
type tailState int

const (
	tailMissing tailState = iota
	tailEmpty
	tailValid
	tailCorrupted
)

// readLastLine returns the bytes of the final newline-terminated record and
// its classification.
func readLastLine(path string) ([]byte, tailState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tailMissing, nil
		}
		return nil, tailMissing, fmt.Errorf("read audit log: %w", err)
	}

	lines := splitLines(data)
	if len(lines) == 0 {
		return nil, tailEmpty, nil
	}
	last := lines[len(lines)-1]

	var e Entry
	if json.Unmarshal(last, &e) == nil && e.Action.Valid() {
		return last, tailValid, nil
	}
	return last, tailCorrupted, nil
}

// splitLines splits on \n and drops empty lines, preserving the exact bytes
// of each record (chain hashes cover the raw line).
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

// Record pairs a parsed entry (nil when the line is corrupted) with its raw
// line bytes.
type Record struct {
	Entry *Entry
	Raw   []byte
}

// Read parses every line of the log independently. Corrupted lines are
// reported inline with a nil Entry rather than dropped, so verification can
// show the break point. A missing file yields an empty slice.
func (l *Log) Read() ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw := make([]byte, len(line))
		copy(raw, line)

		var e Entry
		if json.Unmarshal(raw, &e) == nil && e.Action.Valid() {
			records = append(records, Record{Entry: &e, Raw: raw})
		} else {
			records = append(records, Record{Raw: raw})
		}
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan audit log: %w", err)
	}
	return records, nil
}

// ChainReport is the result of verifying the hash chain.
type ChainReport struct {
	// Entries is the total number of lines examined.
	Entries int
	// Corrupted lists indices of lines that did not parse.
	Corrupted []int
	// Broken lists indices whose prev hash does not match the preceding
	// line's bytes (and is not explained by a recovery boundary).
	Broken []int
	// Segments is the number of chain segments; a chain_recovery entry
	// starts a new one. Zero for an empty log.
	Segments int
}

// Intact returns true when no line is corrupted and no link is broken.
func (r ChainReport) Intact() bool {
	return len(r.Corrupted) == 0 && len(r.Broken) == 0
}

// Verify recomputes every link hash. It takes no lock: concurrent appends
// are tolerated because each line is parsed independently.
func (l *Log) Verify() (ChainReport, error) {
	records, err := l.Read()
	if err != nil {
		return ChainReport{}, err
	}

	report := ChainReport{Entries: len(records)}
	if len(records) == 0 {
		return report, nil
	}
	report.Segments = 1

	for i, rec := range records {
		if rec.Entry == nil {
			report.Corrupted = append(report.Corrupted, i)
			continue
		}
		if rec.Entry.Action == ActionChainRecovery && i > 0 {
			report.Segments++
		}
		if i == 0 {
			if rec.Entry.PrevEntrySHA256 != GenesisHash {
				report.Broken = append(report.Broken, i)
			}
			continue
		}
		want := sha256Hex(records[i-1].Raw)
		if rec.Entry.PrevEntrySHA256 != want {
			report.Broken = append(report.Broken, i)
		}
	}
	return report, nil
}

// AppendBestEffort appends and only logs on failure. This is the form used
// on enforcement paths, where audit failure must not block anything.
func (l *Log) AppendBestEffort(action Action, contentSHA256, source, detail string) {
	if err := l.AppendDetail(action, contentSHA256, source, detail); err != nil {
		log.Warn("audit append failed (continuing): %v", err)
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
