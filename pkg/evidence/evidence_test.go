package evidence_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/reclaim/pkg/errors"
	"github.com/agentstation/reclaim/pkg/evidence"
)

func TestParseMethods(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []evidence.Method
		wantErr bool
	}{
		{"empty selects all", nil, evidence.AllMethods(), false},
		{"comma list", []string{"exact,name"}, []evidence.Method{evidence.MethodExact, evidence.MethodName}, false},
		{"repeated flags and case", []string{"SIZE", " history ", "size"}, []evidence.Method{evidence.MethodSize, evidence.MethodHistory}, false},
		{"unknown", []string{"exact,psychic"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evidence.ParseMethods(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriorityOrder(t *testing.T) {
	ordered := []evidence.Item{
		{Method: evidence.MethodExact},
		{Method: evidence.MethodStructured, Qualifier: evidence.QualifierCorroborated},
		{Method: evidence.MethodHistory, Qualifier: evidence.QualifierVerified},
		{Method: evidence.MethodName},
		{Method: evidence.MethodStructured, Qualifier: evidence.QualifierUncorroborated},
		{Method: evidence.MethodHistory, Qualifier: evidence.QualifierUnverified},
		{Method: evidence.MethodSize},
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i-1].Priority(), ordered[i].Priority(),
			"%s should outrank %s", ordered[i-1].Label(), ordered[i].Label())
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, evidence.Clamp(-0.2))
	assert.Equal(t, 1.0, evidence.Clamp(1.3))
	assert.Equal(t, 0.42, evidence.Clamp(0.42))
	assert.Equal(t, 0.0, evidence.Clamp(math.NaN()))
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, evidence.DefaultWeights().Validate())

	w := evidence.DefaultWeights()
	w.NameFull = 1.2
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name_full")

	w = evidence.DefaultWeights()
	w.SizeMin, w.SizeMax = 0.4, 0.2
	assert.Error(t, w.Validate())
}
