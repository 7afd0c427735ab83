// Package collectors implements the evidence collectors: exact identifier
// matching, structured metadata extraction, fuzzy name and email matching,
// size and time correlation, and historical-source mining.
//
// Every collector is read-only and analyzes one asset at a time. A failure
// on one asset is reported as a CollectorError and the remaining assets
// are still analyzed; when the invocation's deadline passes the evidence
// gathered so far is returned together with a timeout error.
package collectors

import (
	"context"
	"fmt"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/history"
	"github.com/agentstation/reclaim/pkg/logging"
)

// analyzeFunc produces the evidence for one asset. Items returned with an
// error are kept; the error is reported as a failure for that asset.
type analyzeFunc func(ctx context.Context, a assets.Asset) ([]evidence.Item, error)

// collect applies fn to every asset under the configured timeout.
func collect(ctx context.Context, method evidence.Method, in evidence.Input, fn analyzeFunc) (evidence.Result, error) {
	if in.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Config.Timeout)
		defer cancel()
	}
	ctx = logging.WithCollector(ctx, string(method))

	var res evidence.Result
	for _, a := range in.Assets {
		if err := ctx.Err(); err != nil {
			return res, interrupted(method, in, err)
		}
		items, err := analyze(ctx, a, fn)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, interrupted(method, in, ctxErr)
			}
			logging.FromContext(ctx).Debug().Err(err).Str("asset_id", a.ID).Int("items", len(items)).Msg("Collector failed on asset")
			res.Failures = append(res.Failures, errors.NewCollectorError(string(method), a.ID, err))
		}
		for _, it := range items {
			it.AssetID = a.ID
			it.Method = method
			it.Confidence = evidence.Clamp(it.Confidence)
			res.Items = append(res.Items, it)
		}
	}
	return res, nil
}

// analyze isolates a panic in one asset's analysis to that asset.
func analyze(ctx context.Context, a assets.Asset, fn analyzeFunc) (items []evidence.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("panic during analysis: %v", r)
		}
	}()
	return fn(ctx, a)
}

func interrupted(method evidence.Method, in evidence.Input, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError("collect "+string(method), in.Config.Timeout.String(),
			"returning partial evidence")
	}
	return fmt.Errorf("collect %s: %w: %w", method, errors.ErrCanceled, err)
}

// Option configures the collector set built by New.
type Option func(*options)

type options struct {
	history history.Source
}

// WithHistory sets the historical source searched by the history collector.
func WithHistory(src history.Source) Option {
	return func(o *options) {
		o.history = src
	}
}

// New builds the collectors for the given methods, in order.
func New(methods []evidence.Method, opts ...Option) ([]evidence.Collector, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	out := make([]evidence.Collector, 0, len(methods))
	for _, m := range methods {
		switch m {
		case evidence.MethodExact:
			out = append(out, NewExact())
		case evidence.MethodStructured:
			out = append(out, NewStructured())
		case evidence.MethodName:
			out = append(out, NewFuzzy())
		case evidence.MethodSize:
			out = append(out, NewCorrelator())
		case evidence.MethodHistory:
			out = append(out, NewHistory(o.history))
		default:
			return nil, errors.NewValidationError("methods", string(m), "unknown collector method")
		}
	}
	return out, nil
}
