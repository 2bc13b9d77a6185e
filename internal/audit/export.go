package audit

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Export writes a zstd-compressed copy of the raw audit log to w. The log
// file itself is only read - the append-only invariant is untouched. An
// absent log exports an empty archive.
func (l *Log) Export(w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return enc.Close()
		}
		enc.Close()
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(enc, f); err != nil {
		enc.Close()
		return fmt.Errorf("compress audit log: %w", err)
	}
	return enc.Close()
}

// ExportFile writes the compressed archive to the given path.
func (l *Log) ExportFile(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := l.Export(out); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	return out.Close()
}
