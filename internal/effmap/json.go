package effmap

import (
	"encoding/json"
	"math"

	"github.com/banshee-data/btag-effmaps/internal/jets"
)

// binJSON is the persisted form of a bin. Undefined values are null.
type binJSON struct {
	EtaMin     float64     `json:"eta_min"`
	EtaMax     float64     `json:"eta_max"`
	PtMin      float64     `json:"pt_min"`
	PtMax      float64     `json:"pt_max"`
	Eff        *float64    `json:"eff"`
	ErrProp    *float64    `json:"eff_err_prop"`
	ErrClopper [2]*float64 `json:"eff_err_clopper"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// MarshalJSON writes NaN values as null.
func (b EfficiencyBin) MarshalJSON() ([]byte, error) {
	return json.Marshal(binJSON{
		EtaMin:     b.EtaMin,
		EtaMax:     b.EtaMax,
		PtMin:      b.PtMin,
		PtMax:      b.PtMax,
		Eff:        nullable(b.Eff),
		ErrProp:    nullable(b.ErrProp),
		ErrClopper: [2]*float64{nullable(b.ErrClopper[0]), nullable(b.ErrClopper[1])},
	})
}

// UnmarshalJSON reads null values back as NaN.
func (b *EfficiencyBin) UnmarshalJSON(data []byte) error {
	var v binJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = EfficiencyBin{
		EtaMin:     v.EtaMin,
		EtaMax:     v.EtaMax,
		PtMin:      v.PtMin,
		PtMax:      v.PtMax,
		Eff:        orNaN(v.Eff),
		ErrProp:    orNaN(v.ErrProp),
		ErrClopper: [2]float64{orNaN(v.ErrClopper[0]), orNaN(v.ErrClopper[1])},
	}
	return nil
}

// FlatMap is the persisted per-flavour sequence of one dataset's map.
type FlatMap map[jets.Flavor][]EfficiencyBin

// Flat returns the persisted form of m.
func (m *EfficiencyMap) Flat() FlatMap {
	out := make(FlatMap, len(m.Flavors))
	for _, f := range jets.Flavors {
		if _, ok := m.Flavors[f]; ok {
			out[f] = m.Flatten(f)
		}
	}
	return out
}
