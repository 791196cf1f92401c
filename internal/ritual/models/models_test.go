package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
)

func TestCheckAppend(t *testing.T) {
	tests := []struct {
		name      string
		highest   int
		stepOrder int
		code      dErrors.Code
	}{
		{name: "first step", highest: 0, stepOrder: 1},
		{name: "next step", highest: 3, stepOrder: 4},
		{name: "repeat of recorded step", highest: 3, stepOrder: 2, code: dErrors.CodeDuplicateStep},
		{name: "repeat of last step", highest: 3, stepOrder: 3, code: dErrors.CodeDuplicateStep},
		{name: "gap", highest: 3, stepOrder: 5, code: dErrors.CodeOutOfOrder},
		{name: "skipping the first step", highest: 0, stepOrder: 2, code: dErrors.CodeOutOfOrder},
		{name: "zero order", highest: 0, stepOrder: 0, code: dErrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAppend(tt.highest, tt.stepOrder)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, dErrors.CodeOf(err))
		})
	}
}

func TestSatisfied(t *testing.T) {
	e := &RitualEvent{}
	assert.True(t, e.Satisfied(false), "unflagged events do not block by default")
	assert.False(t, e.Satisfied(true))

	e.ApplySignals([]FlagReason{FlagDeviceMismatch, FlagMissingAttribution})
	assert.Equal(t, FlagDeviceMismatch, e.FlagReason)
	assert.False(t, e.Satisfied(false), "flagged events always need a reviewer")

	e.ApplyVerification(id.UserID(uuid.New()), "checked with provider", time.Now())
	assert.True(t, e.Satisfied(true))
	assert.True(t, e.IsFlagged, "verification never clears the flag")
}

func TestHighestAndPrevious(t *testing.T) {
	assert.Equal(t, 0, HighestOrder(nil))
	assert.Nil(t, Previous(nil))

	events := []*RitualEvent{{StepOrder: 2}, {StepOrder: 3}, {StepOrder: 1}}
	assert.Equal(t, 3, HighestOrder(events))
	assert.Equal(t, 3, Previous(events).StepOrder)
}

func TestCloneIsDeep(t *testing.T) {
	e := NewRitualEvent(id.RitualEventID(uuid.New()), id.BookingID(uuid.New()), id.ProviderID(uuid.New()),
		"tawaf", 1, Evidence{GeoLocation: &GeoPoint{Lat: 21.4, Lng: 39.8}, ExifData: map[string]string{"Make": "x"}}, time.Now())
	c := e.Clone()
	c.GeoLocation.Lat = 0
	c.ExifData["Make"] = "y"
	c.Signals = append(c.Signals, FlagDuplicateMedia)
	assert.InDelta(t, 21.4, e.GeoLocation.Lat, 1e-9)
	assert.Equal(t, "x", e.ExifData["Make"])
	assert.Empty(t, e.Signals)
}
