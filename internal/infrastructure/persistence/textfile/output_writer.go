package textfile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
)

// Output filenames inside the output directory.
const (
	// ReportFilename holds the rendered activity report.
	ReportFilename = "activity_report.txt"

	// ActiveListFilename holds the Active list, one identity per line.
	// The role updater and external tooling read this file.
	ActiveListFilename = "active_igns.txt"
)

// ══════════════════════════════════════════════════════════════════════════════
// OUTPUT WRITER
// ══════════════════════════════════════════════════════════════════════════════

// OutputWriter persists run outputs to the output directory.
type OutputWriter struct {
	dir string
	log *logger.Logger
}

// NewOutputWriter creates a new OutputWriter targeting dir.
func NewOutputWriter(dir string, log *logger.Logger) *OutputWriter {
	return &OutputWriter{
		dir: dir,
		log: log.With(logger.Component("output-writer")),
	}
}

// WriteReport writes the rendered activity report.
func (w *OutputWriter) WriteReport(content string) error {
	path, err := w.write(ReportFilename, content)
	if err != nil {
		return shared.WrapError("activity", "WriteReport", shared.ErrExternalService, "write report file", err)
	}
	w.log.Info("report written", logger.String("path", path))
	return nil
}

// WriteActiveList writes the Active list, one identity per line with a
// trailing newline.
func (w *OutputWriter) WriteActiveList(ids []shared.Identity) error {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id.String())
		b.WriteByte('\n')
	}

	path, err := w.write(ActiveListFilename, b.String())
	if err != nil {
		return shared.WrapError("activity", "WriteActiveList", shared.ErrExternalService, "write active list file", err)
	}
	w.log.Info("active list written",
		logger.String("path", path),
		logger.Count("identities", len(ids)))
	return nil
}

func (w *OutputWriter) write(filename, content string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(w.dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
