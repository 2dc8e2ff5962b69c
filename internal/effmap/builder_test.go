package effmap

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/btag-effmaps/internal/calib"
	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/banshee-data/btag-effmaps/internal/unctarget"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCalib = calib.Context{
	Year:         "2018",
	Algorithm:    calib.DeepJet,
	WorkingPoint: calib.Medium,
	Threshold:    0.5,
}

var singleRow = EtaBinning{Edges: []float64{0, 2.4}, Abs: true}

func targetsOf(v float64) unctarget.Targets {
	return unctarget.Targets{jets.FlavorB: v, jets.FlavorC: v, jets.FlavorUDSG: v}
}

// halfTagged puts perSlice b jets in every 10 GeV slice of [lo, hi), half of
// them tagged.
func halfTagged(lo, hi float64, perSlice int) *jets.Dataset {
	ds := &jets.Dataset{Name: "TTTo2L2Nu"}
	for edge := lo; edge < hi; edge += 10 {
		for i := 0; i < perSlice; i++ {
			score := 0.1
			if i%2 == 0 {
				score = 0.9
			}
			ds.Jets = append(ds.Jets, jets.JetRecord{
				Pt:            edge + 10*(float64(i)+0.5)/float64(perSlice),
				Eta:           0.3,
				Weight:        1,
				HadronFlavour: 5,
				DeepJet:       score,
			})
		}
	}
	return ds
}

func randomDataset(seed uint64, n int) *jets.Dataset {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	ds := &jets.Dataset{Name: "random", Jets: make([]jets.JetRecord, n)}
	flav := []int{5, 4, 0, 21}
	for i := range ds.Jets {
		ds.Jets[i] = jets.JetRecord{
			Pt:            20 + rng.ExpFloat64()*80,
			Eta:           rng.Float64()*4.8 - 2.4,
			Weight:        0.2 + rng.Float64(),
			HadronFlavour: flav[rng.IntN(len(flav))],
			DeepJet:       rng.Float64(),
		}
	}
	return ds
}

func TestBuildStopsAtFirstBoundaryMeetingTarget(t *testing.T) {
	b := Builder{Eta: singleRow, Calib: testCalib, PtMin: 20, PtMax: 220, Adaptive: true}
	res, err := b.Build(halfTagged(20, 220, 20), targetsOf(0.05))
	require.NoError(t, err)

	row := res.Map.Flavors[jets.FlavorB].Rows[0]
	require.Len(t, row, 4)
	// 20 jets per slice at eff 0.5: five slices give n_eff=100 and exactly 0.05.
	assert.Equal(t, 70.0, row[0].PtMax)
	for i, bin := range row {
		assert.Equal(t, 20+50*float64(i), bin.PtMin)
		assert.InDelta(t, 0.5, bin.Eff, 1e-12)
		assert.LessOrEqual(t, bin.ErrProp, 0.05)
	}
	assert.Equal(t, 0.05, res.Targets[jets.FlavorB])

	d := res.Diagnostics.Flavors[jets.FlavorB][0][0]
	assert.Equal(t, 5, d.SeedSlices)
	assert.Equal(t, Flag(0), d.Flags)
	assert.InDelta(t, 100, d.Summary.NEff, 1e-9)
}

func TestBuildEmptyFlavourIsDegenerate(t *testing.T) {
	b := Builder{Eta: singleRow, Calib: testCalib, PtMin: 20, PtMax: 220, Adaptive: true}
	res, err := b.Build(halfTagged(20, 220, 20), targetsOf(0.05))
	require.NoError(t, err)

	row := res.Map.Flavors[jets.FlavorC].Rows[0]
	require.Len(t, row, 1)
	assert.Equal(t, 20.0, row[0].PtMin)
	assert.Equal(t, 220.0, row[0].PtMax)
	assert.True(t, math.IsNaN(row[0].Eff))
	assert.True(t, math.IsNaN(row[0].ErrProp))
	flags := res.Diagnostics.Flavors[jets.FlavorC][0][0].Flags
	assert.True(t, flags.Has(FlagDegenerate|FlagTargetMissed))
	assert.True(t, res.Flags.Has(FlagDegenerate))
}

func TestBuildTighterTargetNeverNarrowsFirstWindow(t *testing.T) {
	ds := randomDataset(7, 20000)
	eta := EtaBinning{Edges: []float64{0, 1.2, 2.4}, Abs: true}
	widths := func(target float64) map[jets.Flavor][]float64 {
		b := Builder{Eta: eta, Calib: testCalib, PtMin: 20, PtMax: 400, Adaptive: true}
		res, err := b.Build(ds, targetsOf(target))
		require.NoError(t, err)
		out := make(map[jets.Flavor][]float64)
		for _, f := range jets.Flavors {
			for _, row := range res.Map.Flavors[f].Rows {
				out[f] = append(out[f], row[0].PtMax-row[0].PtMin)
			}
		}
		return out
	}

	targets := []float64{0.2, 0.1, 0.05, 0.02, 0.01}
	prev := widths(targets[0])
	for _, target := range targets[1:] {
		cur := widths(target)
		for _, f := range jets.Flavors {
			for row := range cur[f] {
				assert.GreaterOrEqual(t, cur[f][row], prev[f][row], "flavour %s row %d target %g", f, row, target)
			}
		}
		prev = cur
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	ds := randomDataset(11, 5000)
	before := append([]jets.JetRecord(nil), ds.Jets...)
	targets := targetsOf(0.02)
	b := Builder{
		Eta:         EtaBinning{Edges: []float64{0, 0.8, 1.6, 2.4}, Abs: true},
		Calib:       testCalib,
		PtMin:       20,
		PtMax:       300,
		Adaptive:    true,
		UncStop:     0.1,
		UncIncrease: 0.01,
	}

	first, err := b.Build(ds, targets)
	require.NoError(t, err)
	second, err := b.Build(ds, targets)
	require.NoError(t, err)

	if diff := cmp.Diff(first.Map, second.Map, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("maps differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Targets, second.Targets); diff != "" {
		t.Errorf("targets differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, before, ds.Jets, "input must not be mutated")
	assert.Equal(t, targetsOf(0.02), targets, "targets must not be mutated")
}

func TestBuildNonAdaptiveUsesSeedSlices(t *testing.T) {
	b := Builder{Eta: singleRow, Calib: testCalib, PtMin: 20, PtMax: 75, Step: 10}
	res, err := b.Build(halfTagged(20, 80, 4), nil)
	require.NoError(t, err)

	row := res.Map.Flavors[jets.FlavorB].Rows[0]
	require.Len(t, row, 6)
	assert.Equal(t, 70.0, row[5].PtMin)
	assert.Equal(t, 75.0, row[5].PtMax, "last slice is clipped at pt_max")
	for _, bin := range row {
		assert.InDelta(t, 0.5, bin.Eff, 1e-12)
	}
	assert.Empty(t, res.Targets)
}

func TestBuildBinInvariants(t *testing.T) {
	ds := randomDataset(3, 8000)
	eta := EtaBinning{Edges: []float64{0, 0.6, 1.2, 1.8, 2.4}, Abs: true}
	b := Builder{Eta: eta, Calib: testCalib, PtMin: 20, PtMax: 500, Adaptive: true, UncStop: 0.2, UncIncrease: 0.02}
	res, err := b.Build(ds, targetsOf(0.03))
	require.NoError(t, err)

	for _, f := range jets.Flavors {
		g := res.Map.Flavors[f]
		require.Len(t, g.Rows, eta.Rows())
		for i, row := range g.Rows {
			require.NotEmpty(t, row)
			assert.Equal(t, 20.0, row[0].PtMin)
			assert.Equal(t, 500.0, row[len(row)-1].PtMax)
			for j, bin := range row {
				assert.Equal(t, eta.Edges[i], bin.EtaMin)
				assert.Equal(t, eta.Edges[i+1], bin.EtaMax)
				if j > 0 {
					assert.Equal(t, row[j-1].PtMax, bin.PtMin)
				}
				if math.IsNaN(bin.Eff) {
					continue
				}
				assert.GreaterOrEqual(t, bin.Eff, 0.0)
				assert.LessOrEqual(t, bin.Eff, 1.0)
				assert.GreaterOrEqual(t, bin.ErrClopper[0], 0.0)
				assert.LessOrEqual(t, bin.ErrClopper[0], bin.Eff+1e-12)
				assert.GreaterOrEqual(t, bin.ErrClopper[1], 0.0)
				assert.LessOrEqual(t, bin.ErrClopper[1], 1-bin.Eff+1e-12)
			}
		}
		assert.LessOrEqual(t, res.Targets[f], 0.2)
		assert.GreaterOrEqual(t, res.Targets[f], 0.03)
	}
}

func TestBuildRelaxesTargetAndKeepsIt(t *testing.T) {
	// 4 slices of 4 jets at eff 0.5: the whole row reaches 0.125 only,
	// three slices reach 0.144.
	b := Builder{
		Eta:         singleRow,
		Calib:       testCalib,
		PtMin:       20,
		PtMax:       60,
		Adaptive:    true,
		UncStop:     0.15,
		UncIncrease: 0.1,
	}
	res, err := b.Build(halfTagged(20, 60, 4), targetsOf(0.05))
	require.NoError(t, err)

	assert.Equal(t, 0.15, res.Targets[jets.FlavorB])
	d := res.Diagnostics.Flavors[jets.FlavorB][0]
	require.Len(t, d, 2)
	assert.Equal(t, 50.0, d[0].PtMax)
	assert.True(t, d[0].Flags.Has(FlagRelaxed))
	assert.Equal(t, 1, d[0].Relaxations)
	assert.True(t, res.Flags.Has(FlagRelaxed))

	// The last slice alone misses the relaxed target, which is already at
	// the stop value.
	assert.Equal(t, 0, d[1].Relaxations)
	assert.Equal(t, 0.15, d[1].Target)
	assert.True(t, d[1].Flags.Has(FlagTargetMissed))
}

func TestBuildAcceptsWidestWindowAtStop(t *testing.T) {
	b := Builder{Eta: singleRow, Calib: testCalib, PtMin: 20, PtMax: 60, Adaptive: true, UncStop: 0.06, UncIncrease: 0.01}
	res, err := b.Build(halfTagged(20, 60, 4), targetsOf(0.01))
	require.NoError(t, err)

	row := res.Map.Flavors[jets.FlavorB].Rows[0]
	require.Len(t, row, 1)
	assert.Equal(t, 60.0, row[0].PtMax)
	assert.InDelta(t, 0.06, res.Targets[jets.FlavorB], 1e-12)
	assert.True(t, res.Diagnostics.Flavors[jets.FlavorB][0][0].Flags.Has(FlagTargetMissed))
}

func TestBuildRelaxationCap(t *testing.T) {
	b := Builder{
		Eta:            singleRow,
		Calib:          testCalib,
		PtMin:          20,
		PtMax:          60,
		Adaptive:       true,
		UncStop:        1,
		UncIncrease:    1e-6,
		MaxRelaxations: 10,
	}
	res, err := b.Build(halfTagged(20, 60, 4), targetsOf(0.01))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonConvergence))
	require.NotNil(t, res)
	assert.True(t, res.Flags.Has(FlagNonConvergence))
	row := res.Map.Flavors[jets.FlavorB].Rows[0]
	require.Len(t, row, 1)
	assert.Equal(t, 60.0, row[0].PtMax)
	assert.InDelta(t, 0.01+10e-6, res.Targets[jets.FlavorB], 1e-12)
}

func TestBuildDegenerateDataset(t *testing.T) {
	ds := halfTagged(20, 60, 4)
	for i := range ds.Jets {
		ds.Jets[i].Weight = 0
	}
	b := Builder{Eta: singleRow, Calib: testCalib, PtMin: 20, PtMax: 60, Adaptive: true}
	_, err := b.Build(ds, targetsOf(0.05))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerateInput))
}

func TestBuildRejectsNonFiniteJets(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*jets.JetRecord)
	}{
		{"nan pt", func(j *jets.JetRecord) { j.Pt = math.NaN() }},
		{"nan eta", func(j *jets.JetRecord) { j.Eta = math.NaN() }},
		{"inf eta", func(j *jets.JetRecord) { j.Eta = math.Inf(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := halfTagged(20, 220, 20)
			bad := jets.JetRecord{Pt: 60, Eta: 0.3, Weight: 1, HadronFlavour: 5, DeepJet: 0.9}
			tt.modify(&bad)
			ds.Jets = append(ds.Jets, bad)

			b := Builder{Eta: singleRow, Calib: testCalib, PtMin: 20, PtMax: 220, Adaptive: true}
			var (
				res *Result
				err error
			)
			require.NotPanics(t, func() { res, err = b.Build(ds, targetsOf(0.05)) })
			require.Error(t, err)
			assert.Nil(t, res)
		})
	}
}

func TestBuildKeepsJetAtPtMax(t *testing.T) {
	ds := &jets.Dataset{Name: "edge", Jets: []jets.JetRecord{
		{Pt: 25, Eta: 0.3, Weight: 1, HadronFlavour: 5, DeepJet: 0.9},
		{Pt: 40, Eta: 0.3, Weight: 1, HadronFlavour: 5, DeepJet: 0.1},
		{Pt: 40.5, Eta: 0.3, Weight: 1, HadronFlavour: 5, DeepJet: 0.9},
	}}
	b := Builder{Eta: singleRow, Calib: testCalib, PtMin: 20, PtMax: 40, Step: 10}
	res, err := b.Build(ds, targetsOf(0.05))
	require.NoError(t, err)

	row := res.Map.Flavors[jets.FlavorB].Rows[0]
	require.Len(t, row, 2)
	assert.Equal(t, 40.0, row[1].PtMax)
	// The jet at exactly 40 lands in [30, 40]; the one above is outside.
	assert.Equal(t, 0.0, row[1].Eff)
	assert.Equal(t, 1.0, row[0].Eff)
}

func TestBuilderValidate(t *testing.T) {
	tests := []struct {
		name string
		b    Builder
	}{
		{"no eta edges", Builder{PtMin: 20, PtMax: 100}},
		{"inverted pt", Builder{Eta: singleRow, PtMin: 100, PtMax: 20}},
		{"negative step", Builder{Eta: singleRow, PtMin: 20, PtMax: 100, Step: -1}},
		{"too many slices", Builder{Eta: singleRow, PtMin: 0, PtMax: 1e6, Step: 1, MaxSeedSlices: 10}},
		{"increase without stop", Builder{Eta: singleRow, PtMin: 20, PtMax: 100, UncIncrease: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.b.Validate())
		})
	}
	assert.NoError(t, Builder{Eta: singleRow, PtMin: 20, PtMax: 100}.Validate())
}

func TestBuildRejectsMissingTargets(t *testing.T) {
	b := Builder{Eta: singleRow, Calib: testCalib, PtMin: 20, PtMax: 60, Adaptive: true}
	_, err := b.Build(halfTagged(20, 60, 4), unctarget.Targets{jets.FlavorB: 0.05})
	assert.Error(t, err)
}

func TestEfficiencyMapLookupAndFlat(t *testing.T) {
	b := Builder{Eta: EtaBinning{Edges: []float64{0, 1.2, 2.4}, Abs: true}, Calib: testCalib, PtMin: 20, PtMax: 100, Step: 20}
	res, err := b.Build(randomDataset(5, 3000), nil)
	require.NoError(t, err)

	bin, ok := res.Map.Lookup(jets.FlavorB, -1.5, 45)
	require.True(t, ok)
	assert.Equal(t, 1.2, bin.EtaMin)
	assert.Equal(t, 40.0, bin.PtMin)

	bin, ok = res.Map.Lookup(jets.FlavorB, 0.1, 5000)
	require.True(t, ok)
	assert.Equal(t, 100.0, bin.PtMax, "overflow uses the last bin")

	_, ok = res.Map.Lookup(jets.FlavorB, 3.0, 45)
	assert.False(t, ok)
	_, ok = res.Map.Lookup(jets.FlavorB, 0.1, 10)
	assert.False(t, ok)

	flat := res.Map.Flat()
	assert.Len(t, flat[jets.FlavorUDSG], 8)
	back, err := FromFlat(res.Map.Eta, flat)
	require.NoError(t, err)
	if diff := cmp.Diff(res.Map, back, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("FromFlat mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlatRejectsGaps(t *testing.T) {
	eta := EtaBinning{Edges: []float64{0, 2.4}, Abs: true}
	flat := FlatMap{jets.FlavorB: {
		{EtaMin: 0, EtaMax: 2.4, PtMin: 20, PtMax: 30},
		{EtaMin: 0, EtaMax: 2.4, PtMin: 40, PtMax: 50},
	}}
	_, err := FromFlat(eta, flat)
	assert.Error(t, err)

	flat = FlatMap{jets.FlavorB: {{EtaMin: 1.0, EtaMax: 2.4, PtMin: 20, PtMax: 30}}}
	_, err = FromFlat(eta, flat)
	assert.Error(t, err)
}

func TestEfficiencyBinJSONNulls(t *testing.T) {
	bin := EfficiencyBin{EtaMin: 0, EtaMax: 2.4, PtMin: 20, PtMax: 30, Eff: math.NaN(), ErrProp: math.NaN(), ErrClopper: [2]float64{math.NaN(), math.NaN()}}
	data, err := json.Marshal(bin)
	require.NoError(t, err)
	assert.JSONEq(t, `{"eta_min":0,"eta_max":2.4,"pt_min":20,"pt_max":30,"eff":null,"eff_err_prop":null,"eff_err_clopper":[null,null]}`, string(data))

	var back EfficiencyBin
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsNaN(back.Eff))
	assert.True(t, math.IsNaN(back.ErrClopper[1]))
	assert.Equal(t, 30.0, back.PtMax)
}

func TestEtaBinningIndex(t *testing.T) {
	e := EtaBinning{Edges: []float64{0, 0.8, 1.6, 2.4}, Abs: true}
	tests := []struct {
		eta  float64
		want int
	}{
		{0, 0}, {0.79, 0}, {0.8, 1}, {-0.8, 1}, {-2.3, 2}, {2.4, -1}, {3, -1}, {math.NaN(), -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Index(tt.eta), "eta=%g", tt.eta)
	}
	signed := EtaBinning{Edges: []float64{-2.4, 0, 2.4}}
	assert.Equal(t, 0, signed.Index(-1))
	assert.Equal(t, 1, signed.Index(1))
}

func TestSeedEdges(t *testing.T) {
	assert.Equal(t, []float64{20, 30, 40}, seedEdges(20, 40, 10))
	assert.Equal(t, []float64{20, 30, 35}, seedEdges(20, 35, 10))
	assert.Equal(t, []float64{20, 25}, seedEdges(20, 25, 10))
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "ok", Flag(0).String())
	assert.Equal(t, "degenerate|relaxed", (FlagDegenerate | FlagRelaxed).String())
}
