package recovery

import (
	"fmt"
	"strings"

	"github.com/agentstation/reclaim/pkg/assets"
	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
	"github.com/agentstation/reclaim/pkg/fusion"
)

// Eligible decides whether a winner may be committed automatically: its
// fused confidence must reach the threshold and at least one contributing
// item must come from a method other than size/timestamp correlation.
// The returned reason explains a refusal.
func Eligible(c fusion.Candidate, threshold float64) (bool, string) {
	if len(c.Contributing) == 0 {
		return false, "no contributing evidence"
	}
	if c.OnlyMethod(evidence.MethodSize) {
		return false, "only size/timestamp evidence; needs manual review"
	}
	if c.Confidence < threshold {
		return false, fmt.Sprintf("confidence %.2f below threshold %.2f; needs manual review", c.Confidence, threshold)
	}
	return true, ""
}

// ValidateThreshold checks a confidence threshold is within (0,1].
func ValidateThreshold(t float64) error {
	if t <= 0 || t > 1 || t != t {
		return errors.NewValidationError("confidence_threshold", t, "must be within (0,1]")
	}
	return nil
}

// ValidateTemplate checks a destination template names both the owner
// and the asset and cannot escape the store.
func ValidateTemplate(tmpl string) error {
	switch {
	case !strings.Contains(tmpl, "{owner_id}"):
		return errors.NewValidationError("destination_template", tmpl, "must contain {owner_id}")
	case !strings.Contains(tmpl, "{asset_id}"):
		return errors.NewValidationError("destination_template", tmpl, "must contain {asset_id}")
	case strings.HasPrefix(tmpl, "/") || strings.Contains(tmpl, ".."):
		return errors.NewValidationError("destination_template", tmpl, "must be a relative key without '..'")
	}
	return nil
}

// Destination renders the new location of an asset. The template accepts
// {owner_id}, {asset_id}, {ext} (with the dot) and {kind}.
func Destination(tmpl, ownerID string, a assets.Asset) string {
	if tmpl == "" {
		tmpl = constants.DefaultDestinationTemplate
	}
	id, ext := assets.SplitKey(a.Key)
	if a.ID != "" {
		id = a.ID
	}
	return strings.NewReplacer(
		"{owner_id}", ownerID,
		"{asset_id}", id,
		"{ext}", ext,
		"{kind}", a.Kind,
	).Replace(tmpl)
}
