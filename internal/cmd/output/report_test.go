package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/fusion"
	"github.com/agentstation/reclaim/pkg/recovery"
	"github.com/agentstation/reclaim/pkg/report"
	"github.com/agentstation/reclaim/pkg/session"
)

func sampleReport() *report.Report {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	winner := fusion.Candidate{
		AssetID:    "f1",
		OwnerID:    "O7",
		Confidence: 0.9,
		Contributing: []evidence.Item{
			{AssetID: "f1", OwnerID: "O7", Method: evidence.MethodExact, Confidence: 0.9, Reason: "identifier VID123 found"},
		},
	}
	failed := fusion.Candidate{AssetID: "f2", OwnerID: "O2", Confidence: 0.8}
	r := &report.Report{
		Meta: report.Meta{RunID: "run-1", Phase: report.PhaseFinal, Mode: "execute", Threshold: 0.7,
			Methods: []string{"exact"}, StartedAt: at, GeneratedAt: at},
		Assets: []report.Entry{
			{AssetID: "f1", Outcome: report.OutcomeCommitted, Winner: &winner,
				Alternatives: []fusion.Candidate{{AssetID: "f1", OwnerID: "O9", Confidence: 0.2}},
				Action:       &recovery.Action{AssetID: "f1", OwnerID: "O7", NewLocation: "clients/O7/f1.mp4", Status: recovery.StatusCommitted}},
			{AssetID: "f2", Outcome: report.OutcomeFailed, Winner: &failed,
				Action: &recovery.Action{AssetID: "f2", OwnerID: "O2", Status: recovery.StatusFailed,
					Error: "checksum mismatch", ErrorKind: errors.KindIntegrity}},
			{AssetID: "f9", Outcome: report.OutcomeUnmatched},
		},
		Notes: []session.Note{{Kind: session.NoteNoEvidence, AssetID: "f9", Message: "no evidence links files/f9.bin to any owner"}},
	}
	r.Summary = report.Summarize(r.Assets)
	return r
}

func TestAssetsData(t *testing.T) {
	data := AssetsData(sampleReport(), false)

	require.Len(t, data.Rows, 3)
	assert.Equal(t, []string{"f1", "committed", "O7", "0.90", "exact", "clients/O7/f1.mp4"}, data.Rows[0])
	assert.Equal(t, []string{"f9", "unmatched", "-", "-", "-", "-"}, data.Rows[2])
	assert.Len(t, data.ColumnAlignment, len(data.Headers))
}

func TestAssetsDataWide(t *testing.T) {
	data := AssetsData(sampleReport(), true)

	require.Len(t, data.Headers, 9)
	assert.Equal(t, "identifier VID123 found", data.Rows[0][6])
	assert.Equal(t, "O9 (0.20)", data.Rows[0][7])
	assert.Equal(t, "[integrity] checksum mismatch", data.Rows[1][8])
}

func TestSummaryData(t *testing.T) {
	data := SummaryData(sampleReport())

	assert.Equal(t, []string{"Run", "run-1"}, data.Headers)
	assert.Contains(t, data.Rows, []string{"Total orphaned", "3"})
	assert.Contains(t, data.Rows, []string{"Auto-committed", "1"})
	assert.Contains(t, data.Rows, []string{"Failed", "1"})
}

func TestFormatReportTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatReport(&buf, sampleReport(), FormatTable))

	out := buf.String()
	assert.Contains(t, out, "clients/O7/f1.mp4")
	assert.Contains(t, out, "no evidence links files/f9.bin to any owner")
}

func TestFormatReportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatReport(&buf, sampleReport(), FormatJSON))

	var decoded report.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.Meta.RunID)
	assert.Len(t, decoded.Assets, 3)
}

func TestFormatReportYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatReport(&buf, sampleReport(), FormatYAML))
	assert.Contains(t, buf.String(), "run_id: run-1")
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"table", "JSON", "yaml", "wide", ""} {
		_, err := ParseFormat(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestTableFormatterFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, map[string]int{"committed": 2}))

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 2, decoded["committed"])
}
