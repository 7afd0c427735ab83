package history_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reclaim/pkg/history"
)

const assetID = "5b0c2a9e-1f3d-4c7e-9a55-0f1e2d3c4b5a"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLogDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2024", "upload.log"), strings.Join([]string{
		"starting batch",
		"Sam Torode (Row 502)",
		"Uploading interview.mp4 as files/" + assetID + ".mp4",
		"",
		"done",
	}, "\n"))
	writeFile(t, filepath.Join(dir, "reclaim-execute-20240301T101500Z-abc.json"), "files/"+assetID)
	writeFile(t, filepath.Join(dir, "image.png"), "files/"+assetID)

	src, err := history.NewLogDir(dir)
	require.NoError(t, err)

	hits, err := src.Search(ctx, assetID)
	require.NoError(t, err)
	require.Len(t, hits, 1, "reports and non-log files are not searched")
	assert.Equal(t, history.Unverified, hits[0].Tier)
	assert.Equal(t, "log:2024/upload.log:3", hits[0].SourceRef)
	assert.Contains(t, hits[0].MatchedText, "Sam Torode (Row 502)\nUploading interview.mp4")

	none, err := src.Search(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLogDirTruncatesOnRuneBoundary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "upload.log"), "uploaded files/"+assetID+" "+strings.Repeat("é", 1500))

	src, err := history.NewLogDir(dir)
	require.NoError(t, err)
	hits, err := src.Search(context.Background(), assetID)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	text := hits[0].MatchedText
	assert.True(t, utf8.ValidString(text), "matched text must stay valid UTF-8")
	assert.True(t, strings.HasSuffix(text, "é..."))
	assert.LessOrEqual(t, len(text), 2048+len("..."))
}

func TestLogDirSkipsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "big.log"), strings.Repeat("x", 64)+assetID)

	src, err := history.NewLogDir(dir, history.WithMaxFileSize(32))
	require.NoError(t, err)
	hits, err := src.Search(context.Background(), assetID)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestManifestDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sam_torode_s3_upload_502.json"), fmt.Sprintf(`{
  "person_id": 502,
  "person_name": "Sam Torode",
  "files": [
    {"file_uuid": %q, "original_filename": "interview.mp4", "file_type": "video", "s3_key": "files/%s.mp4"}
  ]
}`, assetID, assetID))
	writeFile(t, filepath.Join(dir, "ana.yaml"), `
owner_id: O2
owner_name: Ana Ortiz
files:
  - key: files/f3.pdf
`)
	writeFile(t, filepath.Join(dir, "broken.json"), `{"files": [`)

	src := history.NewManifestDir(dir)

	hits, err := src.Search(ctx, assetID)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, history.Verified, hits[0].Tier)
	assert.Equal(t, "502", hits[0].OwnerID)
	assert.Equal(t, "Sam Torode", hits[0].OwnerName)
	assert.Equal(t, "manifest:sam_torode_s3_upload_502.json", hits[0].SourceRef)

	hits, err = src.Search(ctx, "f3")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "O2", hits[0].OwnerID)
}

func TestGitLog(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	sig := &object.Signature{Name: "ops", Email: "ops@example.com", When: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	for i, msg := range []string{
		"initial import",
		"Row 502: attach files/" + assetID + ".mp4",
	} {
		writeFile(t, filepath.Join(dir, fmt.Sprintf("note%d.txt", i)), msg)
		_, err := wt.Add(fmt.Sprintf("note%d.txt", i))
		require.NoError(t, err)
		_, err = wt.Commit(msg, &git.CommitOptions{Author: sig})
		require.NoError(t, err)
	}

	src := history.NewGitLog(dir)
	hits, err := src.Search(context.Background(), assetID)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, history.Unverified, hits[0].Tier)
	assert.True(t, strings.HasPrefix(hits[0].SourceRef, "git:"))
	assert.Contains(t, hits[0].MatchedText, "Row 502")

	_, err = history.NewGitLog(t.TempDir()).Search(context.Background(), assetID)
	assert.Error(t, err, "a directory without a repository is an error")
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	good := &history.Static{Label: "ops", Hits: []history.Hit{
		{SourceRef: "ops:1", Tier: history.Unverified, MatchedText: "Row 7 uploaded f1"},
		{SourceRef: "ops:2", Tier: history.Unverified, MatchedText: "unrelated"},
	}}
	bad := history.NewGitLog(t.TempDir())

	m := history.NewMulti(good, nil, bad)
	assert.Equal(t, 2, m.Len())

	hits, err := m.Search(ctx, "f1")
	require.Len(t, hits, 1)
	assert.Equal(t, "ops:1", hits[0].SourceRef)
	require.Error(t, err, "the failing source is reported")
	assert.Contains(t, err.Error(), "history")
}
