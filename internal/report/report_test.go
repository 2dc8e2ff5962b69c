package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/btag-effmaps/internal/calib"
	"github.com/banshee-data/btag-effmaps/internal/effmap"
	"github.com/banshee-data/btag-effmaps/internal/jets"
)

var testEta = effmap.EtaBinning{Edges: []float64{0, 1.2, 2.4}, Abs: true}

func testMap() *effmap.EfficiencyMap {
	m := effmap.NewEfficiencyMap(testEta)
	for i := 0; i < testEta.Rows(); i++ {
		lo, hi := testEta.Edges[i], testEta.Edges[i+1]
		m.Flavors[jets.FlavorB].Rows[i] = []effmap.EfficiencyBin{
			{EtaMin: lo, EtaMax: hi, PtMin: 20, PtMax: 50, Eff: 0.6, ErrProp: 0.05, ErrClopper: [2]float64{0.04, 0.05}},
			{EtaMin: lo, EtaMax: hi, PtMin: 50, PtMax: 1000, Eff: 0.7, ErrProp: 0.03, ErrClopper: [2]float64{0.03, 0.03}},
		}
		m.Flavors[jets.FlavorC].Rows[i] = []effmap.EfficiencyBin{
			{EtaMin: lo, EtaMax: hi, PtMin: 20, PtMax: 1000, Eff: 0.12, ErrProp: 0.02, ErrClopper: [2]float64{0.02, 0.02}},
		}
		m.Flavors[jets.FlavorUDSG].Rows[i] = []effmap.EfficiencyBin{
			{EtaMin: lo, EtaMax: hi, PtMin: 20, PtMax: 1000, Eff: math.NaN(), ErrProp: math.NaN(), ErrClopper: [2]float64{math.NaN(), math.NaN()}},
		}
	}
	return m
}

func testNaming(t *testing.T, apv bool) Naming {
	t.Helper()
	year := "2018"
	if apv {
		year = "2016"
	}
	return NewNaming(t.TempDir(), calib.Context{Year: year, APV: apv, Algorithm: calib.DeepJet, WorkingPoint: calib.Medium, Threshold: 0.277})
}

func TestNamingPaths(t *testing.T) {
	n := Naming{OutputDir: "out", Algo: "deepjet", WorkingPoint: "medium", Year: "2016", APV: true}

	assert.Equal(t, filepath.Join("out", "btageffmap-deepjet-medium-2016-true.json"), n.EffMapPath())
	assert.Equal(t, filepath.Join("out", "btaguncmap-deepjet-medium-2016-true.json"), n.UncMapPath())
	assert.Equal(t, filepath.Join("out", "APV_2016"), n.PlotDir())
	assert.Equal(t, filepath.Join("out", "APV_2016", "TTTo2L2Nu_effetabin_deepjet-medium.png"), n.PlotPath("TTTo2L2Nu"))
	assert.Equal(t, filepath.Join("out", "APV_2016", "TTTo2L2Nu_effetabin_deepjet-medium.html"), n.HTMLPath("TTTo2L2Nu"))

	n.APV = false
	n.Year = "2018"
	assert.Equal(t, filepath.Join("out", "2018"), n.PlotDir())
	assert.True(t, strings.HasSuffix(n.EffMapPath(), "-2018-false.json"))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"TTTo2L2Nu", "TTTo2L2Nu"},
		{"ST_tW-top", "ST_tW-top"},
		{"../../etc/passwd", "etc_passwd"},
		{"a b//c", "a_b_c"},
		{"", "unknown"},
		{"..", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), tt.in)
	}
}

func TestEnsureWithinRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	err := ensureWithin(filepath.Join(dir, "..", "elsewhere.json"), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")
	require.NoError(t, ensureWithin(filepath.Join(dir, "2018", "x.png"), dir))
	_, err = os.Stat(filepath.Join(dir, "2018"))
	assert.NoError(t, err)
}

func TestEffMapsRoundTrip(t *testing.T) {
	n := testNaming(t, false)
	m := testMap()
	doc := NewEffMapDocument([]*effmap.Result{{Dataset: "WZ", Map: m}, {Dataset: "ZZ", Map: m}})

	path, err := n.WriteEffMaps(doc)
	require.NoError(t, err)
	assert.Equal(t, n.EffMapPath(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, []byte("\n")), "efficiency map file is compact")
	assert.Contains(t, string(data), `"eff":null`)

	back, err := ReadEffMaps(path, testEta)
	require.NoError(t, err)
	require.Len(t, back, 2)
	if diff := cmp.Diff(m.Flavors, back["WZ"].Flavors, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	bin, ok := back["ZZ"].Lookup(jets.FlavorB, -2.0, 60)
	require.True(t, ok)
	assert.Equal(t, 0.7, bin.Eff)
}

func TestReadEffMapsRejectsUnknownFlavour(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"WZ":{"top":[]}}`), 0644))
	_, err := ReadEffMaps(path, testEta)
	assert.Error(t, err)
}

func TestWritePlot(t *testing.T) {
	n := testNaming(t, true)
	path, err := n.WritePlot("DYJetsToLL", testMap())
	require.NoError(t, err)
	assert.Equal(t, n.PlotPath("DYJetsToLL"), path)
	assert.Contains(t, path, "APV_2016")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}

func TestWritePlotEmptyMap(t *testing.T) {
	n := testNaming(t, false)
	_, err := n.WritePlot("Empty", effmap.NewEfficiencyMap(testEta))
	assert.NoError(t, err)
}

func TestRenderHTML(t *testing.T) {
	data, err := RenderHTML("WZ", testMap())
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "WZ: b-jets")
	assert.Contains(t, html, "WZ: udsg-jets")
	assert.Contains(t, html, "|eta| bin [0, 1.2)")
	assert.Contains(t, html, echartsAssetsPrefix)

	n := testNaming(t, false)
	path, err := n.WriteHTML("WZ", testMap())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".html"))
}

func TestGenerateColors(t *testing.T) {
	assert.Nil(t, generateColors(0))
	cs := generateColors(4)
	require.Len(t, cs, 4)
	assert.NotEqual(t, cs[0], cs[2])
	r, g, b := hslToRGB(0, 0, 0.5)
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}
