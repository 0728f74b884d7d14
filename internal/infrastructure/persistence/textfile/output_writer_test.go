package textfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
)

func TestOutputWriter_WriteActiveList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	w := NewOutputWriter(dir, testLogger())

	err := w.WriteActiveList([]shared.Identity{"Kirington", "Everlynn"})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, ActiveListFilename))
	require.NoError(t, err)
	assert.Equal(t, "Kirington\nEverlynn\n", string(content))
}

func TestOutputWriter_WriteActiveList_Empty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	w := NewOutputWriter(dir, testLogger())

	require.NoError(t, w.WriteActiveList(nil))

	content, err := os.ReadFile(filepath.Join(dir, ActiveListFilename))
	require.NoError(t, err)
	assert.Empty(t, string(content))
}

func TestOutputWriter_WriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")
	w := NewOutputWriter(dir, testLogger())

	require.NoError(t, w.WriteReport("report body\n"))

	content, err := os.ReadFile(filepath.Join(dir, ReportFilename))
	require.NoError(t, err)
	assert.Equal(t, "report body\n", string(content))
}

func TestOutputWriter_OverwritesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	w := NewOutputWriter(dir, testLogger())

	require.NoError(t, w.WriteReport("first"))
	require.NoError(t, w.WriteReport("second"))

	content, err := os.ReadFile(filepath.Join(dir, ReportFilename))
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))
}
