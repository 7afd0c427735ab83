package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reclaim/pkg/ledger"
	"github.com/agentstation/reclaim/pkg/report"
)

type workspace struct {
	store   string
	ledger  string
	reports string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	ws := workspace{
		store:   filepath.Join(root, "store"),
		ledger:  filepath.Join(root, "ledger.db"),
		reports: filepath.Join(root, "reports"),
	}

	require.NoError(t, os.MkdirAll(filepath.Join(ws.store, "files"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.store, "files", "f1.mp4"), []byte("VID123 master cut"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.store, "files", "n1.bin"), []byte{0x00, 0x01, 0x02}, 0o644))

	l, err := ledger.OpenSQLite(ws.ledger)
	require.NoError(t, err)
	require.NoError(t, l.UpsertOwner(context.Background(), ledger.OwnerRecord{
		OwnerID:          "O7",
		DisplayName:      "Lee Park",
		KnownIdentifiers: []string{"VID123"},
	}))
	require.NoError(t, l.Close())
	return ws
}

func (ws workspace) args(cmd string, extra ...string) []string {
	return append([]string{cmd,
		"--store", ws.store,
		"--ledger", ws.ledger,
		"--report-path", ws.reports,
		"--methods", "exact,name,size",
		"--format", "json",
		"--run-id", "run-1",
	}, extra...)
}

func run(t *testing.T, args []string) (*report.Report, error) {
	t.Helper()
	var out bytes.Buffer
	app, err := New("test", "test", "test", "test", WithOutput(&out))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Shutdown(context.Background())) }()

	runErr := app.Execute(context.Background(), args)
	if out.Len() == 0 {
		return nil, runErr
	}
	var r report.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &r), out.String())
	return &r, runErr
}

func TestReconcileCommandDryRun(t *testing.T) {
	ws := newWorkspace(t)

	r, err := run(t, ws.args("reconcile"))
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, report.PhasePreview, r.Meta.Phase)
	assert.Equal(t, 2, r.Summary.Total)
	assert.Equal(t, 1, r.Summary.WouldCommit)
	assert.Equal(t, 1, r.Summary.Unmatched)
	assert.FileExists(t, filepath.Join(ws.store, "files", "f1.mp4"))
	assert.NoFileExists(t, filepath.Join(ws.store, "clients", "O7", "f1.mp4"))

	written, err := filepath.Glob(filepath.Join(ws.reports, "reclaim-preview-*.json"))
	require.NoError(t, err)
	assert.Len(t, written, 1)
}

func TestReconcileCommandExecute(t *testing.T) {
	ws := newWorkspace(t)

	r, err := run(t, ws.args("reconcile", "--execute"))
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, report.PhaseFinal, r.Meta.Phase)
	assert.Equal(t, 1, r.Summary.AutoCommitted)
	assert.NoFileExists(t, filepath.Join(ws.store, "files", "f1.mp4"))
	assert.FileExists(t, filepath.Join(ws.store, "clients", "O7", "f1.mp4"))

	l, err := ledger.OpenSQLite(ws.ledger)
	require.NoError(t, err)
	defer l.Close()
	rec, err := l.HasCommitted(context.Background(), "f1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "O7", rec.OwnerID)
	assert.Equal(t, "run-1", rec.RunID)

	// The stored final report renders through the report command.
	written, err := filepath.Glob(filepath.Join(ws.reports, "reclaim-final-*.json"))
	require.NoError(t, err)
	require.Len(t, written, 1)

	var out bytes.Buffer
	app, err := New("test", "test", "test", "test", WithOutput(&out))
	require.NoError(t, err)
	require.NoError(t, app.Execute(context.Background(), []string{"report", written[0], "--format", "table"}))
	assert.Contains(t, out.String(), "clients/O7/f1.mp4")
	assert.Contains(t, out.String(), "committed")
}

func TestReconcileCommandMissingLedgerIsFatal(t *testing.T) {
	ws := newWorkspace(t)
	ws.ledger = filepath.Join(t.TempDir(), "missing.db")

	_, err := run(t, ws.args("reconcile", "--execute"))
	require.Error(t, err)
	assert.Equal(t, ExitFatal, ExitCode(err))
	assert.FileExists(t, filepath.Join(ws.store, "files", "f1.mp4"))
}

func TestReconcileCommandMissingStoreIsFatal(t *testing.T) {
	ws := newWorkspace(t)
	ws.store = filepath.Join(t.TempDir(), "missing")

	_, err := run(t, ws.args("reconcile"))
	require.Error(t, err)
	assert.Equal(t, ExitFatal, ExitCode(err))
}

func TestReconcileCommandRejectsInvalidFlags(t *testing.T) {
	ws := newWorkspace(t)

	tests := []struct {
		name string
		args []string
	}{
		{"dry run and execute", ws.args("reconcile", "--dry-run", "--execute")},
		{"threshold out of range", ws.args("reconcile", "--confidence-threshold", "1.5")},
		{"unknown method", ws.args("reconcile", "--methods", "exact,telepathy")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args)
			assert.Error(t, err)
		})
	}
}

func TestReportCommandMissingFile(t *testing.T) {
	app, err := New("test", "test", "test", "test", WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	err = app.Execute(context.Background(), []string{"report", filepath.Join(t.TempDir(), "nope.json")})
	require.Error(t, err)
	assert.Equal(t, ExitPartial, ExitCode(err))
}
