// internal/reporting/assembler.go
package reporting

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
)

// resultsHeaderSelector locates the column headers of the results table.
const resultsHeaderSelector = "table#results-table thead th"

// Assembler post-processes the rendered report once the run is over.
// It is best effort: problems are logged, never returned.
type Assembler struct {
	logger *zap.Logger
	from   string
	to     string
}

// NewAssembler creates an assembler renaming the cfg.RenameFrom header to cfg.RenameTo.
func NewAssembler(cfg config.ReportConfig, logger *zap.Logger) *Assembler {
	from, to := cfg.RenameFrom, cfg.RenameTo
	if from == "" {
		from = "Duration"
	}
	if to == "" {
		to = "Execution Time"
	}
	return &Assembler{logger: logger.Named("report_assembler"), from: from, to: to}
}

// Finalize renames the results table header in the report at path. A missing
// report or header leaves the file untouched, so running it twice is harmless.
func (a *Assembler) Finalize(path string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Report post-processing panicked.", zap.String("path", path), zap.Any("panic", r))
		}
	}()

	renamed, err := a.rename(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.logger.Info("Report file not found, skipping column rename.", zap.String("path", path))
	case err != nil:
		a.logger.Warn("Report post-processing failed.", zap.String("path", path), zap.Error(err))
	case !renamed:
		a.logger.Warn("Column not found in report.", zap.String("path", path), zap.String("column", a.from))
	default:
		a.logger.Info("Report column renamed.", zap.String("path", path), zap.String("from", a.from), zap.String("to", a.to))
	}
}

func (a *Assembler) rename(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read report: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return false, fmt.Errorf("failed to parse report: %w", err)
	}

	found := false
	doc.Find(resultsHeaderSelector).EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if strings.TrimSpace(th.Text()) != a.from {
			return true
		}
		th.SetText(a.to)
		found = true
		return false
	})
	if !found {
		return false, nil
	}

	var buf bytes.Buffer
	for _, n := range doc.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return false, fmt.Errorf("failed to render report: %w", err)
		}
	}
	if err := writeFileAtomic(path, buf.Bytes(), info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}

// writeFileAtomic replaces path through a temporary file in the same directory,
// so a crash never leaves a truncated report behind.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary report: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary report: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set report permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace report: %w", err)
	}
	return nil
}
