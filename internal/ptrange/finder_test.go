package ptrange

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformDataset(name string, n int, lo, hi, w float64) *jets.Dataset {
	ds := &jets.Dataset{Name: name, Jets: make([]jets.JetRecord, n)}
	for i := range ds.Jets {
		ds.Jets[i] = jets.JetRecord{Pt: lo + (float64(i)+0.5)*(hi-lo)/float64(n), Weight: w}
	}
	return ds
}

func fractionAbove(ds *jets.Dataset, cut float64) float64 {
	return ds.WeightAbove(cut) / ds.TotalWeight()
}

func TestFindUniform(t *testing.T) {
	batch := map[string]*jets.Dataset{
		"uniform": uniformDataset("uniform", 10000, 0, 1000, 1),
	}
	res, err := Finder{Threshold: 0.001}.Find(batch, 500)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 1000.0, res.PtMax)
	assert.Equal(t, 50, res.Iterations)
	assert.LessOrEqual(t, res.Fractions["uniform"], 0.001)
	assert.Greater(t, fractionAbove(batch["uniform"], res.PtMax-DefaultStep), 0.001)
}

func TestFindSmallestCommonCut(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	random := func(name string, n int, hi float64) *jets.Dataset {
		ds := &jets.Dataset{Name: name, Jets: make([]jets.JetRecord, n)}
		for i := range ds.Jets {
			ds.Jets[i] = jets.JetRecord{Pt: rng.Float64() * hi, Weight: 0.5 + rng.Float64()}
		}
		return ds
	}
	batch := map[string]*jets.Dataset{
		"TTTo2L2Nu":  random("TTTo2L2Nu", 20000, 1000),
		"DYJetsToLL": random("DYJetsToLL", 20000, 600),
		"WZ":         random("WZ", 5000, 1000),
	}
	const tau = 0.001
	initial := 100.0

	res, err := Finder{Threshold: tau}.Find(batch, initial)
	require.NoError(t, err)

	for name, ds := range batch {
		assert.LessOrEqual(t, fractionAbove(ds, res.PtMax), tau, name)
	}
	prev := res.PtMax - DefaultStep
	require.GreaterOrEqual(t, prev, initial)
	exceeded := false
	for _, ds := range batch {
		if fractionAbove(ds, prev) > tau {
			exceeded = true
		}
	}
	assert.True(t, exceeded, "one step below the result must violate the threshold")
}

func TestFindInitialAlreadySatisfies(t *testing.T) {
	batch := map[string]*jets.Dataset{"a": uniformDataset("a", 100, 0, 200, 1)}
	res, err := Finder{Threshold: 0.001}.Find(batch, 500)
	require.NoError(t, err)
	assert.Equal(t, 500.0, res.PtMax)
	assert.Equal(t, 0, res.Iterations)
}

func TestFindZeroWeightDatasetIsFatal(t *testing.T) {
	batch := map[string]*jets.Dataset{
		"good":  uniformDataset("good", 100, 0, 100, 1),
		"empty": uniformDataset("empty", 100, 0, 100, 0),
	}
	_, err := Finder{Threshold: 0.001}.Find(batch, 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerateInput))
	var de *DegenerateDatasetError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "empty", de.Dataset)
}

func TestFindIterationCap(t *testing.T) {
	batch := map[string]*jets.Dataset{"far": uniformDataset("far", 100, 0, 1e6, 1)}
	res, err := Finder{Threshold: 0.001, MaxIterations: 5}.Find(batch, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonConvergence))
	assert.False(t, res.Converged)
	assert.Equal(t, 50.0, res.PtMax)
}

func TestFindRejectsBadParameters(t *testing.T) {
	batch := map[string]*jets.Dataset{"a": uniformDataset("a", 10, 0, 10, 1)}
	_, err := Finder{Threshold: 1.5}.Find(batch, 0)
	assert.Error(t, err)
	_, err = Finder{Threshold: 0.01, Step: -10}.Find(batch, 0)
	assert.Error(t, err)
}

func TestTailAboveIsStrict(t *testing.T) {
	ds := &jets.Dataset{Jets: []jets.JetRecord{
		{Pt: 10, Weight: 1}, {Pt: 20, Weight: 2}, {Pt: 20, Weight: 3}, {Pt: 30, Weight: 4},
	}}
	tl := newTail(ds)
	assert.Equal(t, 10.0, tl.total)
	assert.Equal(t, 4.0, tl.above(20))
	assert.Equal(t, 9.0, tl.above(10))
	assert.Equal(t, 10.0, tl.above(5))
	assert.Equal(t, 0.0, tl.above(30))
}
