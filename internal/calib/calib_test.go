package calib

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnown(t *testing.T) {
	r := DefaultResolver()
	testCases := []struct {
		year string
		apv  bool
		algo string
		wp   string
		want float64
	}{
		{"2018", false, "DeepJet", "medium", 0.2783},
		{"18", false, "deepflavb", "M", 0.2783},
		{"2016", true, "deepcsv", "tight", 0.8819},
		{"2016", false, "DeepCSV", "loose", 0.1918},
		{"2017", false, "btagDeepB", "t", 0.7738},
	}
	for _, tc := range testCases {
		ctx, err := r.Resolve(tc.year, tc.apv, tc.algo, tc.wp)
		require.NoError(t, err, "%s %t %s %s", tc.year, tc.apv, tc.algo, tc.wp)
		assert.Equal(t, tc.want, ctx.Threshold)
	}
}

func TestResolveUnknownFailsFast(t *testing.T) {
	r := DefaultResolver()
	testCases := []struct {
		name string
		year string
		apv  bool
		algo string
		wp   string
	}{
		{"apv_outside_2016", "2018", true, "deepjet", "medium"},
		{"unknown_year", "2022", false, "deepjet", "medium"},
		{"unknown_algo", "2018", false, "particlenet", "medium"},
		{"unknown_wp", "2018", false, "deepjet", "xtight"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.year, tc.apv, tc.algo, tc.wp)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnknownCalibration))
		})
	}
}

func TestContextTagging(t *testing.T) {
	ctx, err := DefaultResolver().Resolve("2017", false, "deepjet", "medium")
	require.NoError(t, err)

	tagged := jets.JetRecord{DeepJet: 0.9, DeepCSV: 0.0, HadronFlavour: 5}
	atThreshold := jets.JetRecord{DeepJet: 0.3040}
	assert.True(t, ctx.Tagged(tagged))
	assert.False(t, ctx.Tagged(atThreshold), "threshold is exclusive")
	assert.Equal(t, jets.FlavorB, ctx.Flavor(tagged))
	assert.Equal(t, "2017", ctx.Period())
}

func TestPeriodLabel(t *testing.T) {
	ctx, err := DefaultResolver().Resolve("2016", true, "deepcsv", "loose")
	require.NoError(t, err)
	assert.Equal(t, "APV_2016", ctx.Period())
}

func TestAddEntry(t *testing.T) {
	r, err := NewResolver()
	require.NoError(t, err)
	_, err = r.Resolve("2022", false, "deepjet", "medium")
	require.Error(t, err)

	require.NoError(t, r.Add(Entry{Year: "2022", Algorithm: "DeepJet", WorkingPoint: "M", Threshold: 0.3086}))
	ctx, err := r.Resolve("2022", false, "deepjet", "medium")
	require.NoError(t, err)
	assert.Equal(t, 0.3086, ctx.Threshold)

	assert.Error(t, r.Add(Entry{Year: "2022", Algorithm: "deepjet", WorkingPoint: "medium", Threshold: 1.5}))
	assert.Error(t, r.Add(Entry{Year: "2022", Algorithm: "deepjet", WorkingPoint: "tight", Threshold: math.NaN()}))
	assert.Error(t, r.Add(Entry{Algorithm: "deepjet", WorkingPoint: "medium", Threshold: 0.5}))
	assert.Len(t, r.Entries(), 1)
}

func TestDefaultTableComplete(t *testing.T) {
	// Every period carries all three working points for both taggers.
	assert.Len(t, DefaultResolver().Entries(), 24)
}
