// internal/reporting/reporter.go
package reporting

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Writer renders a finished run to an output.
type Writer interface {
	Write(ctx context.Context, run *Run) error
}

// New creates a writer for format ("html" or "junit") targeting outputPath.
func New(format, outputPath, title string) (Writer, error) {
	switch format {
	case "html":
		return NewHTMLWriter(outputPath, title), nil
	case "junit":
		return NewJUnitWriter(outputPath), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteAll runs every writer concurrently and returns the first error.
func WriteAll(ctx context.Context, run *Run, writers ...Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range writers {
		w := w
		g.Go(func() error {
			return w.Write(gctx, run)
		})
	}
	return g.Wait()
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// openOutput opens outputPath for writing, creating parent directories.
// An empty path or "stdout" writes to standard output.
func openOutput(outputPath string) (io.WriteCloser, error) {
	if outputPath == "" || outputPath == "stdout" {
		return &nopWriteCloser{os.Stdout}, nil
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	return f, nil
}
