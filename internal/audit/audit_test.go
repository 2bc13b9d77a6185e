package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestGenesisEntry(t *testing.T) {
	l := New(t.TempDir())
	if err := l.Append(ActionCreated, "abc123", "cli"); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := l.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	e := records[0].Entry
	if e == nil {
		t.Fatal("entry did not parse")
	}
	if e.PrevEntrySHA256 != GenesisHash {
		t.Errorf("genesis prev = %q", e.PrevEntrySHA256)
	}
	if e.Action != ActionCreated {
		t.Errorf("action = %q", e.Action)
	}
}

func TestChainIntact(t *testing.T) {
	l := New(t.TempDir())
	for i := 0; i < 5; i++ {
		if err := l.Append(ActionVerified, "sha", "session_start"); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	report, err := l.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Intact() {
		t.Errorf("chain should be intact: %+v", report)
	}
	if report.Entries != 5 || report.Segments != 1 {
		t.Errorf("entries=%d segments=%d", report.Entries, report.Segments)
	}
}

func TestTamperedLineDetected(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	for i := 0; i < 3; i++ {
		if err := l.Append(ActionVerified, "sha", "test"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Rewrite the middle line with different (still valid JSON) content.
	data, _ := os.ReadFile(l.Path())
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	lines[1] = strings.Replace(lines[1], `"sha"`, `"tampered"`, 1)
	os.WriteFile(l.Path(), []byte(strings.Join(lines, "\n")+"\n"), 0600)

	report, err := l.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	found := false
	for _, i := range report.Broken {
		if i == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("entry 2 should have a broken link: %+v", report)
	}
}

func TestChainRecoveryOnCorruptedTail(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	if err := l.Append(ActionSigned, "abc", "cli"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(ActionVerified, "abc", "session_start"); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Corrupt the tail with a non-JSON line.
	f, _ := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0600)
	f.WriteString("this is not json\n")
	f.Close()

	// Next append must insert a recovery entry first.
	if err := l.Append(ActionVerified, "abc", "session_start"); err != nil {
		t.Fatalf("append after corruption: %v", err)
	}

	records, err := l.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// signed, verified, garbage, chain_recovery, verified
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	if records[2].Entry != nil {
		t.Error("garbage line should not parse")
	}
	rec := records[3].Entry
	if rec == nil || rec.Action != ActionChainRecovery {
		t.Fatalf("expected chain_recovery at index 3, got %+v", records[3])
	}
	if rec.Source != SourceAuditSystem {
		t.Errorf("recovery source = %q", rec.Source)
	}
	if !strings.Contains(rec.Detail, "corrupted") {
		t.Errorf("recovery detail = %q", rec.Detail)
	}

	report, err := l.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Segments != 2 {
		t.Errorf("segments = %d, want 2", report.Segments)
	}
	if len(report.Corrupted) != 1 || report.Corrupted[0] != 2 {
		t.Errorf("corrupted = %v", report.Corrupted)
	}
	// The recovery entry links to the corrupted raw bytes, and the final
	// entry links to the recovery line: no broken links.
	if len(report.Broken) != 0 {
		t.Errorf("broken = %v, want none", report.Broken)
	}
}

func TestTruncatedTailMidJSON(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	for i := 0; i < 4; i++ {
		if err := l.Append(ActionVerified, "sha", "test"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Truncate the last line mid-JSON, keeping the newline off the tail.
	data, _ := os.ReadFile(l.Path())
	cut := bytes.TrimRight(data, "\n")
	cut = cut[:len(cut)-10]
	os.WriteFile(l.Path(), append(cut, '\n'), 0600)

	if err := l.Append(ActionVerified, "sha", "test"); err != nil {
		t.Fatalf("append after truncation: %v", err)
	}

	report, err := l.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Segments != 2 {
		t.Errorf("segments = %d, want 2", report.Segments)
	}
	if len(report.Corrupted) != 1 {
		t.Errorf("corrupted = %v, want one break point", report.Corrupted)
	}
	// Every line but the damaged one stays parseable.
	records, _ := l.Read()
	parseable := 0
	for _, r := range records {
		if r.Entry != nil {
			parseable++
		}
	}
	if parseable != len(records)-1 {
		t.Errorf("parseable = %d of %d", parseable, len(records))
	}
}

func TestEmptyLogVerifies(t *testing.T) {
	l := New(t.TempDir())
	report, err := l.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Entries != 0 || report.Segments != 0 || !report.Intact() {
		t.Errorf("empty log report: %+v", report)
	}
}

func TestDetailOmittedWhenEmpty(t *testing.T) {
	l := New(t.TempDir())
	if err := l.Append(ActionTamperDetected, "abc", "cli"); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, _ := os.ReadFile(l.Path())
	if strings.Contains(string(data), `"detail"`) {
		t.Errorf("empty detail should be omitted: %s", data)
	}
	if !strings.Contains(string(data), `"tamper_detected"`) {
		t.Errorf("action not snake_case: %s", data)
	}
}

func TestWriteBlockedDetailRoundTrip(t *testing.T) {
	l := New(t.TempDir())
	if err := l.AppendDetail(ActionWriteBlocked, "", "tool:write_file", "LocalGPT.md"); err != nil {
		t.Fatalf("append: %v", err)
	}
	records, _ := l.Read()
	e := records[0].Entry
	if e.Detail != "LocalGPT.md" || e.Source != "tool:write_file" {
		t.Errorf("round trip: %+v", e)
	}
}

func TestSequentialSessionsSameContentSHA(t *testing.T) {
	l := New(t.TempDir())
	for i := 0; i < 2; i++ {
		if err := l.Append(ActionVerified, "same-sha", "session_start"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	records, _ := l.Read()
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].Entry.ContentSHA256 != records[1].Entry.ContentSHA256 {
		t.Error("content hashes must match for unchanged policy")
	}
}

func TestExportRoundTrip(t *testing.T) {
	l := New(t.TempDir())
	if err := l.Append(ActionSigned, "abc", "cli"); err != nil {
		t.Fatalf("append: %v", err)
	}
	original, _ := os.ReadFile(l.Path())

	var buf bytes.Buffer
	if err := l.Export(&buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	dec, err := zstd.NewReader(&buf)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	decompressed, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Error("export does not round-trip the raw log")
	}

	var e Entry
	line := bytes.Split(decompressed, []byte{'\n'})[0]
	if err := json.Unmarshal(line, &e); err != nil {
		t.Errorf("exported line unparseable: %v", err)
	}
}

func TestConcurrentAppendsSerialized(t *testing.T) {
	l := New(t.TempDir())
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 10; j++ {
				_ = l.Append(ActionVerified, "sha", "test")
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	report, err := l.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Entries != 80 {
		t.Errorf("entries = %d, want 80", report.Entries)
	}
	if !report.Intact() {
		t.Errorf("concurrent appends broke the chain: %+v", report)
	}
}
