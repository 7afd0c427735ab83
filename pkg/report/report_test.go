package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/fusion"
	"github.com/agentstation/reclaim/pkg/recovery"
	"github.com/agentstation/reclaim/pkg/session"
)

var (
	started   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	generated = time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	actedAt   = time.Date(2024, 3, 1, 12, 4, 0, 0, time.UTC)
)

func candidate(asset, owner string, conf float64, m evidence.Method) fusion.Candidate {
	return fusion.Candidate{
		AssetID:    asset,
		OwnerID:    owner,
		Confidence: conf,
		Contributing: []evidence.Item{{
			AssetID: asset, OwnerID: owner, Method: m, Confidence: conf, Reason: "identifier VID123 found",
		}},
	}
}

func finalFixture() *Report {
	orphans := []assets.Asset{
		{ID: "f9", Key: "files/f9.pdf", Size: 2048, Kind: "pdf"},
		{ID: "f1", Key: "files/f1.mp4", Size: 1048576, Kind: "mp4"},
	}
	rankings := []fusion.Ranking{{AssetID: "f1", Winner: candidate("f1", "O7", 0.9, evidence.MethodExact)}}
	actions := []recovery.Action{{
		ID: "act-1", AssetID: "f1", OwnerID: "O7",
		OldLocation: "files/f1.mp4", NewLocation: "clients/O7/f1.mp4",
		Confidence: 0.9, Status: recovery.StatusCommitted, Stage: recovery.StageDone,
		Timestamp: actedAt, ClaimAttempts: 1,
	}}
	return Build(rankings, actions, orphans, Meta{
		RunID: "run-1", Phase: PhaseFinal, Mode: "execute", Threshold: 0.7,
		Methods: []string{"exact"}, StartedAt: started, GeneratedAt: generated,
	})
}

func TestBuildGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, finalFixture(), FormatJSON))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "final_report", buf.Bytes())
}

func TestBuildOutcomes(t *testing.T) {
	orphans := []assets.Asset{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}, {ID: "f"}, {ID: "g"}, {ID: "h"}}
	var rankings []fusion.Ranking
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		rankings = append(rankings, fusion.Ranking{AssetID: id, Winner: candidate(id, "O1", 0.8, evidence.MethodName)})
	}
	actions := []recovery.Action{
		{AssetID: "a", Status: recovery.StatusCommitted},
		{AssetID: "b", Status: recovery.StatusCommitted, AlreadyReconciled: true},
		{AssetID: "c", Status: recovery.StatusPending, Planned: true},
		{AssetID: "d", Status: recovery.StatusPending},
		{AssetID: "e", Status: recovery.StatusFailed},
		{AssetID: "f", Status: recovery.StatusRolledBack},
	}

	r := Build(rankings, actions, orphans, Meta{RunID: "r"})
	want := Summary{
		Total: 8, AutoCommitted: 1, AlreadyReconciled: 1, WouldCommit: 1,
		Pending: 2, Failed: 1, RolledBack: 1, Unmatched: 1,
	}
	if diff := cmp.Diff(want, r.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, r.HasFailures())

	outcomes := map[string]Outcome{}
	for _, e := range r.Assets {
		outcomes[e.AssetID] = e.Outcome
	}
	assert.Equal(t, OutcomePending, outcomes["g"], "winner without action is pending")
	assert.Equal(t, OutcomeUnmatched, outcomes["h"])
}

func TestBuildKeepsAlternatives(t *testing.T) {
	rankings := []fusion.Ranking{{
		AssetID:      "f2",
		Winner:       candidate("f2", "O2", 0.8, evidence.MethodName),
		Alternatives: []fusion.Candidate{candidate("f2", "O5", 0.6, evidence.MethodName)},
	}}
	r := Build(rankings, nil, []assets.Asset{{ID: "f2", Key: "files/f2.mp4"}}, Meta{})
	require.Len(t, r.Assets, 1)
	e := r.Assets[0]
	require.NotNil(t, e.Winner)
	assert.Equal(t, "O2", e.Winner.OwnerID)
	require.Len(t, e.Alternatives, 1)
	assert.Equal(t, "O5", e.Alternatives[0].OwnerID)
	assert.False(t, r.HasFailures())
}

func TestWithSession(t *testing.T) {
	sess := session.New(session.WithID("run-1"))
	sess.Notef(session.NoteCollectorFailure, "f1", "boom")
	r := finalFixture().WithSession(sess)
	require.Len(t, r.Notes, 1)
	assert.Equal(t, 1, r.Counters["notes."+string(session.NoteCollectorFailure)])
}

func TestWriterNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, WithClock(func() time.Time { return generated }))
	r := finalFixture()

	path, err := w.Write(r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reclaim-final-20240301T120500Z-run-1.json"), path)

	_, err = w.Write(r)
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(err))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r.Summary, loaded.Summary)
	assert.Equal(t, "clients/O7/f1.mp4", loaded.Assets[0].Action.NewLocation)
}

func TestWriterYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, WithFormat(FormatYAML), WithClock(func() time.Time { return generated }))
	path, err := w.Write(finalFixture())
	require.NoError(t, err)
	assert.Equal(t, ".yaml", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "total_orphaned: 2")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Summary.AutoCommitted)
	assert.Equal(t, OutcomeUnmatched, loaded.Assets[1].Outcome)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.True(t, errors.IsNotFound(err))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"xml", FormatJSON, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
