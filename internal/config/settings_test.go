package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reclaim/pkg/constants"
	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultConfidenceThreshold, s.Threshold)
	assert.Equal(t, constants.DefaultWorkers, s.Workers)
	assert.Equal(t, constants.DefaultBatchSize, s.BatchSize)
	assert.Equal(t, constants.DefaultDestinationTemplate, s.DestinationTemplate)
	assert.Equal(t, evidence.DefaultWeights(), s.Weights)
	assert.False(t, s.History.HasHistory())

	methods, err := s.ParsedMethods()
	require.NoError(t, err)
	assert.Equal(t, evidence.AllMethods(), methods)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "0.85")
	t.Setenv("METHODS", "exact,history")
	t.Setenv("WEIGHTS_EXACT_SINGLE", "0.95")
	t.Setenv("HISTORY_LOGS", "/var/log/uploads,/srv/logs")
	t.Setenv("TIMEOUT", "90s")

	s, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, 0.85, s.Threshold)
	assert.Equal(t, []string{"exact", "history"}, s.Methods)
	assert.Equal(t, 0.95, s.Weights.ExactSingle)
	assert.Equal(t, evidence.DefaultWeights().NameFull, s.Weights.NameFull)
	assert.Equal(t, []string{"/var/log/uploads", "/srv/logs"}, s.History.Logs)
	assert.Equal(t, 90*time.Second, s.Timeout)
	assert.True(t, s.History.HasHistory())
}

func TestLoadFromConfigFile(t *testing.T) {
	v := newViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
store: /srv/assets
ledger: /srv/ledger.db
history:
  git: [/srv/repo]
  manifests: [/srv/manifests]
workers: 2
size_tolerance: 0.1
weights:
  size_max: 0.25
`)))

	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/srv/assets", s.Store)
	assert.Equal(t, "/srv/ledger.db", s.Ledger)
	assert.Equal(t, []string{"/srv/repo"}, s.History.Git)
	assert.Equal(t, []string{"/srv/manifests"}, s.History.Manifests)
	assert.Equal(t, 2, s.Workers)
	assert.Equal(t, 0.25, s.Weights.SizeMax)

	cfg := s.Collector()
	assert.Equal(t, 0.1, cfg.SizeTolerance)
	assert.Equal(t, 0.25, cfg.Weights.SizeMax)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"threshold above one", KeyThreshold, 1.5},
		{"zero workers", KeyWorkers, 0},
		{"zero batch size", KeyBatchSize, 0},
		{"unknown method", KeyMethods, []string{"exact", "telepathy"}},
		{"unknown report format", KeyReportFormat, "xml"},
		{"weight out of range", "weights.name_full", 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.val)

			_, err := Load(v)
			require.Error(t, err)
			var cfgErr *errors.ConfigError
			assert.True(t, errors.IsValidationError(err) || errors.As(err, &cfgErr),
				"unexpected error type: %v", err)
		})
	}
}
