package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yourorg/fitment-ingest/internal/types"
	"github.com/yourorg/fitment-ingest/internal/upload"
)

// ObjectStore reads source files and writes publish archives.
type ObjectStore interface {
	// Get returns a reader for the given URI (s3://bucket/key or file://path) and its size when known.
	Get(ctx context.Context, uri string) (io.ReadCloser, int64, error)
	// Put writes content to the given URI; returns final URI.
	Put(ctx context.Context, uri string, body io.Reader) (string, error)
}

var ErrUnsupportedScheme = errors.New("storage: unsupported scheme")

// Scheme returns the lowercased scheme of uri; a bare path counts as file.
func Scheme(uri string) string {
	if !strings.Contains(uri, "://") {
		return "file"
	}
	return strings.ToLower(uri[:strings.Index(uri, "://")])
}

func localPath(uri string) string { return strings.TrimPrefix(uri, "file://") }

func parseS3(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.New("invalid s3 uri")
	}
	return
}

// BaseName is the last path element of uri.
func BaseName(uri string) string {
	if Scheme(uri) == "file" {
		return filepath.Base(localPath(uri))
	}
	if u, err := url.Parse(uri); err == nil {
		return path.Base(u.Path)
	}
	return path.Base(uri)
}

// OpenFile describes the object at uri as an upload candidate. Each Open re-reads the object.
func OpenFile(ctx context.Context, s ObjectStore, uri string, kind types.DataKind) (upload.File, error) {
	rc, size, err := s.Get(ctx, uri)
	if err != nil {
		return upload.File{}, fmt.Errorf("open %s: %w", uri, err)
	}
	rc.Close()
	return upload.File{
		Name: BaseName(uri),
		Size: size,
		Kind: kind,
		Open: func() (io.ReadCloser, error) {
			rc, _, err := s.Get(ctx, uri)
			return rc, err
		},
	}, nil
}

func getLocal(uri string) (io.ReadCloser, int64, error) {
	f, err := os.Open(localPath(uri))
	if err != nil {
		return nil, 0, err
	}
	var size int64
	if st, _ := f.Stat(); st != nil {
		size = st.Size()
	}
	return f, size, nil
}

func putLocal(uri string, body io.Reader) (string, error) {
	p := localPath(uri)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return "file://" + p, nil
}
