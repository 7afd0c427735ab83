package collectors

import (
	"context"
	"sort"
	"sync"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/logging"
	"github.com/agentstation/reclaim/pkg/session"
)

// Runner fans collectors out over batches of assets on a bounded worker
// pool and gathers their evidence behind a barrier.
type Runner struct {
	collectors []evidence.Collector
	workers    int
	batchSize  int
}

// NewRunner creates a runner. Non-positive sizes select the defaults.
func NewRunner(collectors []evidence.Collector, workers, batchSize int) *Runner {
	if workers <= 0 {
		workers = constants.DefaultWorkers
	}
	if batchSize <= 0 {
		batchSize = constants.DefaultBatchSize
	}
	return &Runner{collectors: collectors, workers: workers, batchSize: batchSize}
}

type job struct {
	collector evidence.Collector
	in        evidence.Input
}

// Run executes every collector over every batch of in.Assets. Failures and
// timeouts are recorded in sess; they never abort the run. The returned
// items are sorted by asset, owner and method.
func (r *Runner) Run(ctx context.Context, in evidence.Input, sess *session.Session) []evidence.Item {
	log := logging.FromContext(ctx)
	pool := in.Universe()

	var jobs []job
	for start := 0; start < len(in.Assets); start += r.batchSize {
		batch := in
		batch.Assets = in.Assets[start:min(start+r.batchSize, len(in.Assets))]
		batch.Pool = pool
		for _, c := range r.collectors {
			jobs = append(jobs, job{collector: c, in: batch})
		}
	}

	queue := make(chan job)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		items []evidence.Item
	)
	for w := 0; w < min(r.workers, max(len(jobs), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				method := string(j.collector.Method())
				res, err := j.collector.Collect(ctx, j.in)
				for _, f := range res.Failures {
					sess.RecordCollectorError(method, f)
				}
				if err != nil {
					log.Warn().Err(err).Str("collector", method).Int("items", len(res.Items)).Msg("Collector returned partial evidence")
					sess.RecordCollectorError(method, err)
				}
				mu.Lock()
				items = append(items, res.Items...)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, j := range jobs {
		select {
		case queue <- j:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	sess.Add("evidence.items", len(items))
	sort.SliceStable(items, func(i, k int) bool {
		a, b := items[i], items[k]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		if a.OwnerID != b.OwnerID {
			return a.OwnerID < b.OwnerID
		}
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		return a.Confidence > b.Confidence
	})
	log.Debug().Int("jobs", len(jobs)).Int("items", len(items)).Msg("Collectors finished")
	return items
}
