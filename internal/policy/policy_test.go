package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, 50, p.Trust.InitialScore)
	assert.Equal(t, 3, p.Trust.InitialCapacity)
	assert.True(t, p.Ledger.RequireVerificationOfUnflagged)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Version, p.Version)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	p, err := Parse([]byte(`
version: "2026.2"
trust:
  initial_score: 60
  suspension_threshold: 25
fraud:
  attribution_steps: ["Talbiyah", " niyyah "]
ledger:
  required_steps:
    Umrah: [Ihram, Tawaf, "Sa'i", Halq]
  require_verification_of_unflagged: false
capacity:
  reservation_timeout: 72h
`))
	require.NoError(t, err)

	assert.Equal(t, "2026.2", p.Version)
	assert.Equal(t, 60, p.Trust.InitialScore)
	assert.Equal(t, 3, p.Trust.InitialCapacity, "unset fields keep defaults")
	assert.Equal(t, 72*time.Hour, p.Capacity.ReservationTimeout)
	assert.False(t, p.Ledger.RequireVerificationOfUnflagged)
	assert.Equal(t, []string{"ihram", "tawaf", "sa'i", "halq"}, p.Ledger.RequiredStepsFor("umrah"))
	assert.True(t, p.Fraud.IsAttributionStep("TALBIYAH"))
	assert.False(t, p.Fraud.IsAttributionStep("ihram"))
}

func TestParse_RejectsInvalidPolicy(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "score out of range", yaml: "trust:\n  initial_score: 101\n"},
		{name: "zero growth cadence", yaml: "trust:\n  capacity_growth_every: 0\n"},
		{name: "cap below initial capacity", yaml: "trust:\n  max_capacity: 1\n"},
		{name: "deductions not ordered by severity", yaml: "trust:\n  deductions: {minor: 20, major: 10, critical: 30}\n"},
		{name: "non-positive travel speed", yaml: "fraud:\n  max_travel_speed_kmh: 0\n"},
		{name: "missing version", yaml: "version: \"\"\n"},
		{name: "unknown key", yaml: "trust:\n  bonus: 3\n"},
		{name: "bad prefix", yaml: "certificate:\n  number_prefix: \"BD-L\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
