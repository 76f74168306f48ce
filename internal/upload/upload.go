// Package upload holds the client-side checks a file must pass before it is sent
// to the ingestion service, and a sniffer that reads its header row.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/types"
)

// DefaultMaxBytes is the service's upload cap.
const DefaultMaxBytes int64 = 250 << 20

var allowedExt = map[string]bool{".csv": true, ".tsv": true, ".xlsx": true, ".xls": true}

// File is a candidate upload. Open may be called more than once.
type File struct {
	Name string
	Size int64
	Kind types.DataKind
	Open func() (io.ReadCloser, error)
}

// FromPath builds a File backed by a local path.
func FromPath(path string, kind types.DataKind) (File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return File{
		Name: filepath.Base(path),
		Size: st.Size(),
		Kind: kind,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Ext returns the lowercased extension of name.
func Ext(name string) string { return strings.ToLower(filepath.Ext(name)) }

// Check runs the pre-upload checks. maxBytes <= 0 means DefaultMaxBytes.
func Check(f File, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if strings.TrimSpace(f.Name) == "" {
		return apperr.Validation("choose a file to upload")
	}
	if !f.Kind.Valid() {
		return apperr.Validation("unknown data type %q, expected fitments or products", f.Kind)
	}
	if ext := Ext(f.Name); !allowedExt[ext] {
		return apperr.UploadRejected("%s: unsupported file type, use .csv, .tsv, .xlsx or .xls", f.Name)
	}
	if f.Size == 0 {
		return apperr.Validation("%s is empty", f.Name)
	}
	if f.Size > maxBytes {
		return apperr.UploadRejected("%s is %s, the limit is %s", f.Name, FormatSize(f.Size), FormatSize(maxBytes))
	}
	if f.Open == nil {
		return apperr.Validation("%s has no content", f.Name)
	}
	return nil
}

// FormatSize renders n bytes with a binary unit, e.g. "1.5 MB".
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
