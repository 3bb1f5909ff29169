package computation

import (
	"compress/gzip"
	"io"
	"os"
	"strings"
)

// OpenLog opens path for reading, transparently decompressing it if the
// name ends in ".gz" (spec §4.5: "compressed (gzip) variant if the primary
// log file name ends in .gz"). Callers that get os.ErrNotExist should fall
// back to PlaceholderForMissingLog rather than surfacing an error.
func OpenLog(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &gzipReadCloser{gz: gz, f: f}, nil
}

// gzipReadCloser closes both the gzip reader and the underlying file.
type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	gzErr := g.gz.Close()
	fErr := g.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}
