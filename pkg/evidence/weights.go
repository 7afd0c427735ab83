package evidence

import (
	"fmt"
	"reflect"
	"time"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
)

// Weights are the confidence values each collector assigns. They are a
// default policy, not a calibration, and can be overridden from config.
type Weights struct {
	ExactSingle         float64 `json:"exact_single" yaml:"exact_single" mapstructure:"exact_single"`
	ExactDouble         float64 `json:"exact_double" yaml:"exact_double" mapstructure:"exact_double"`
	ExactAmbiguous      float64 `json:"exact_ambiguous" yaml:"exact_ambiguous" mapstructure:"exact_ambiguous"`
	StructuredBase      float64 `json:"structured_base" yaml:"structured_base" mapstructure:"structured_base"`
	StructuredToken     float64 `json:"structured_token" yaml:"structured_token" mapstructure:"structured_token"`
	StructuredFull      float64 `json:"structured_full" yaml:"structured_full" mapstructure:"structured_full"`
	NameFull            float64 `json:"name_full" yaml:"name_full" mapstructure:"name_full"`
	NamePartial         float64 `json:"name_partial" yaml:"name_partial" mapstructure:"name_partial"`
	NameSingle          float64 `json:"name_single" yaml:"name_single" mapstructure:"name_single"`
	EmailExact          float64 `json:"email_exact" yaml:"email_exact" mapstructure:"email_exact"`
	EmailLocal          float64 `json:"email_local" yaml:"email_local" mapstructure:"email_local"`
	NameCap             float64 `json:"name_cap" yaml:"name_cap" mapstructure:"name_cap"`
	NameMin             float64 `json:"name_min" yaml:"name_min" mapstructure:"name_min"`
	SizeMin             float64 `json:"size_min" yaml:"size_min" mapstructure:"size_min"`
	SizeMax             float64 `json:"size_max" yaml:"size_max" mapstructure:"size_max"`
	HistoryVerifiedFull float64 `json:"history_verified_full" yaml:"history_verified_full" mapstructure:"history_verified_full"`
	HistoryVerified     float64 `json:"history_verified" yaml:"history_verified" mapstructure:"history_verified"`
	HistoryID           float64 `json:"history_id" yaml:"history_id" mapstructure:"history_id"`
	HistoryName         float64 `json:"history_name" yaml:"history_name" mapstructure:"history_name"`
	FusionBonus         float64 `json:"fusion_bonus" yaml:"fusion_bonus" mapstructure:"fusion_bonus"`
}

// DefaultWeights returns the default scoring policy.
func DefaultWeights() Weights {
	return Weights{
		ExactSingle:         0.90,
		ExactDouble:         0.95,
		ExactAmbiguous:      0.50,
		StructuredBase:      0.70,
		StructuredToken:     0.85,
		StructuredFull:      0.95,
		NameFull:            0.80,
		NamePartial:         0.40,
		NameSingle:          0.50,
		EmailExact:          0.90,
		EmailLocal:          0.60,
		NameCap:             0.85,
		NameMin:             0.40,
		SizeMin:             0.10,
		SizeMax:             0.30,
		HistoryVerifiedFull: 0.95,
		HistoryVerified:     0.90,
		HistoryID:           0.70,
		HistoryName:         0.60,
		FusionBonus:         0.05,
	}
}

// Validate checks every weight is within [0,1] and the size band is ordered.
func (w Weights) Validate() error {
	v := reflect.ValueOf(w)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i).Float()
		if f < 0 || f > 1 {
			return errors.NewConfigError("weights",
				fmt.Sprintf("%s must be within [0,1], got %.2f", t.Field(i).Tag.Get("yaml"), f), nil)
		}
	}
	if w.SizeMin > w.SizeMax {
		return errors.NewConfigError("weights", "size_min must not exceed size_max", nil)
	}
	return nil
}

// Config carries collector settings alongside the weights.
type Config struct {
	Weights Weights
	// Timeout bounds one collector invocation. Zero means no limit.
	Timeout time.Duration
	// SizeTolerance is the maximum relative size difference for correlation.
	SizeTolerance float64
	// OwnerFields are structured payload keys holding an owner id.
	OwnerFields []string
	// NameFields are structured payload keys holding human-readable text.
	NameFields []string
}

// DefaultConfig returns the default collector settings.
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		Timeout:       constants.CollectorTimeout,
		SizeTolerance: 0.20,
		OwnerFields:   []string{"owner_id", "person_id", "client_id", "row_id", "client_row_id"},
		NameFields: []string{
			"title", "name", "filename", "original_filename", "uploader", "creator",
			"owner", "owner_name", "person_name", "channel", "description", "playlist_title",
		},
	}
}
