package assets

import (
	"context"
	"net/http"
	"strings"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/logging"
	"github.com/agentstation/reclaim/pkg/session"
)

// Layout names the key prefixes of the orphan pool and the owner namespaces.
type Layout struct {
	OrphanPrefix string
	OwnerPrefix  string
}

// DefaultLayout is files/<id>.<ext> for orphans and clients/<owner_id>/... for owners.
func DefaultLayout() Layout {
	return Layout{OrphanPrefix: constants.OrphanPrefix, OwnerPrefix: constants.OwnerPrefix}
}

// Discover lists the orphan pool and returns one Asset per object directly
// under the orphan prefix. When sampler is non-nil each asset carries its
// content sample; a failed sample read is logged, noted on sess when it is
// non-nil, and the asset kept without a sample.
func Discover(ctx context.Context, store Store, sampler *Sampler, layout Layout, sess *session.Session) ([]Asset, error) {
	objs, err := store.List(ctx, layout.OrphanPrefix)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	out := make([]Asset, 0, len(objs))
	for _, obj := range objs {
		rest := strings.TrimPrefix(obj.Key, layout.OrphanPrefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		id, ext := SplitKey(obj.Key)
		if id == "" {
			continue
		}
		a := Asset{
			ID:          id,
			Key:         obj.Key,
			Size:        obj.Size,
			Kind:        strings.TrimPrefix(ext, "."),
			ContentType: ContentTypeOf(ext),
			ModifiedAt:  obj.ModifiedAt,
			ETag:        obj.ETag,
			Metadata:    obj.Metadata,
		}
		if sampler != nil {
			sample, err := sampler.Sample(ctx, obj)
			if err != nil {
				log.Warn().Err(err).Str("key", obj.Key).Msg("Content sample unavailable")
				if sess != nil {
					sess.Notef(session.NoteSampleFailure, id, "content sample of %s unavailable: %v", obj.Key, err)
				}
			} else {
				a.Sample = sample
				if a.ContentType == "" && len(sample) > 0 {
					a.ContentType = http.DetectContentType(sample)
				}
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// OwnerObjects lists owner namespaces and groups objects by owner id, the
// first path segment under the owner prefix.
func OwnerObjects(ctx context.Context, store Store, layout Layout) (map[string][]ObjectInfo, error) {
	objs, err := store.List(ctx, layout.OwnerPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]ObjectInfo)
	for _, obj := range objs {
		rest := strings.TrimPrefix(obj.Key, layout.OwnerPrefix)
		ownerID, _, ok := strings.Cut(rest, "/")
		if !ok || ownerID == "" {
			continue
		}
		out[ownerID] = append(out[ownerID], obj)
	}
	return out, nil
}
