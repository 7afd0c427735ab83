package history

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/logging"
)

// GitLog searches the commit messages of a local git repository. Commit
// messages are free text written by operators, so hits are unverified.
type GitLog struct {
	path string

	once    sync.Once
	loadErr error
	commits []gitCommit
}

type gitCommit struct {
	hash    string
	message string
}

// NewGitLog creates a source over the repository at path. The repository
// is opened and its history read on first search.
func NewGitLog(path string) *GitLog {
	return &GitLog{path: path}
}

// Name implements Source.
func (g *GitLog) Name() string { return "git:" + g.path }

func (g *GitLog) load(ctx context.Context) error {
	g.once.Do(func() {
		repo, err := git.PlainOpen(g.path)
		if err != nil {
			g.loadErr = fmt.Errorf("failed to open repository: %w", err)
			return
		}
		iter, err := repo.CommitObjects()
		if err != nil {
			g.loadErr = fmt.Errorf("failed to get commits: %w", err)
			return
		}
		defer iter.Close()

		err = iter.ForEach(func(c *object.Commit) error {
			g.commits = append(g.commits, gitCommit{
				hash:    c.Hash.String(),
				message: c.Message,
			})
			return nil
		})
		if err != nil {
			g.loadErr = fmt.Errorf("failed to read commits: %w", err)
			return
		}
		logging.FromContext(ctx).Debug().
			Str("repo", g.path).
			Int("commits", len(g.commits)).
			Msg("Loaded git history")
	})
	return g.loadErr
}

// Search implements Source.
func (g *GitLog) Search(ctx context.Context, pattern string) ([]Hit, error) {
	if err := g.load(ctx); err != nil {
		return nil, err
	}
	var out []Hit
	for _, c := range g.commits {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !strings.Contains(c.message, pattern) {
			continue
		}
		out = append(out, Hit{
			SourceRef:   "git:" + c.hash[:min(7, len(c.hash))],
			Tier:        Unverified,
			MatchedText: truncate(c.message, 1024),
		})
		if len(out) >= constants.MaxHistoryHits {
			break
		}
	}
	return out, nil
}
