// Package effstat computes tagging efficiencies and their statistical
// uncertainties from weighted counts.
//
// Event weights are not uniform, so every uncertainty is computed from the
// effective sample size (Σw)²/Σw² rather than the raw number of jets. An
// undefined ratio (no positive weight in the bin) is reported as NaN and
// never coerced to zero.
package effstat

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultConfidence is the coverage of the Clopper-Pearson interval.
const DefaultConfidence = 0.95

// Counts are the weighted sums of one bin.
type Counts struct {
	SumW        float64 // Σw over all jets
	SumW2       float64 // Σw² over all jets
	SumWTagged  float64 // Σw over tagged jets
	SumW2Tagged float64 // Σw² over tagged jets
}

// Add accumulates one jet.
func (c *Counts) Add(w float64, tagged bool) {
	c.SumW += w
	c.SumW2 += w * w
	if tagged {
		c.SumWTagged += w
		c.SumW2Tagged += w * w
	}
}

// Plus returns the element-wise sum of two bins.
func (c Counts) Plus(o Counts) Counts {
	return Counts{
		SumW:        c.SumW + o.SumW,
		SumW2:       c.SumW2 + o.SumW2,
		SumWTagged:  c.SumWTagged + o.SumWTagged,
		SumW2Tagged: c.SumW2Tagged + o.SumW2Tagged,
	}
}

// Degenerate reports whether the efficiency of the bin is undefined.
func (c Counts) Degenerate() bool {
	return !(c.SumW > 0) || !(c.SumW2 > 0)
}

// Efficiency returns Σw(tagged)/Σw clamped to [0,1], or NaN when the bin
// carries no positive weight. Clamping only matters for samples with
// negative weights.
func Efficiency(c Counts) float64 {
	if c.Degenerate() {
		return math.NaN()
	}
	return clamp(c.SumWTagged/c.SumW, 0, 1)
}

// EffectiveCount returns (Σw)²/Σw², or NaN for a degenerate bin.
func EffectiveCount(c Counts) float64 {
	if c.Degenerate() {
		return math.NaN()
	}
	return c.SumW * c.SumW / c.SumW2
}

// Propagated returns the binomial error propagation estimate
// sqrt(eff·(1−eff)/n_eff). It is exactly zero when eff is 0 or 1.
func Propagated(c Counts) float64 {
	eff := Efficiency(c)
	neff := EffectiveCount(c)
	if math.IsNaN(eff) || math.IsNaN(neff) {
		return math.NaN()
	}
	return math.Sqrt(eff * (1 - eff) / neff)
}

// Interval is an asymmetric uncertainty expressed as offsets below and
// above the central efficiency.
type Interval struct {
	Low  float64
	High float64
}

// NaNInterval is returned for degenerate bins.
func NaNInterval() Interval {
	return Interval{Low: math.NaN(), High: math.NaN()}
}

// Array returns the interval as [low, high].
func (i Interval) Array() [2]float64 { return [2]float64{i.Low, i.High} }

// ClopperPearson returns the exact binomial interval at confidence level cl
// computed from the effective counts n = n_eff and k = eff·n_eff. The
// effective counts are generally not integers; the Beta-quantile form of
// the interval is used, which is continuous in k and n. At eff = 0 the
// lower offset is 0 and the upper offset stays positive (and vice versa at
// eff = 1).
func ClopperPearson(c Counts, cl float64) Interval {
	eff := Efficiency(c)
	n := EffectiveCount(c)
	if math.IsNaN(eff) || math.IsNaN(n) {
		return NaNInterval()
	}
	lo, hi := clopperPearsonBounds(eff*n, n, cl)
	return Interval{
		Low:  clamp(eff-lo, 0, eff),
		High: clamp(hi-eff, 0, 1-eff),
	}
}

// clopperPearsonBounds returns the absolute interval bounds for k successes
// out of n trials.
func clopperPearsonBounds(k, n, cl float64) (lo, hi float64) {
	alpha := (1 - cl) / 2
	const tiny = 1e-12

	lo = 0
	if k > tiny {
		lo = distuv.Beta{Alpha: k, Beta: n - k + 1}.Quantile(alpha)
	}
	hi = 1
	if n-k > tiny {
		hi = distuv.Beta{Alpha: k + 1, Beta: n - k}.Quantile(1 - alpha)
	}
	return lo, hi
}

// Summary bundles every metric of one bin.
type Summary struct {
	Counts     Counts
	Eff        float64
	NEff       float64
	Prop       float64
	Clopper    Interval
	Degenerate bool
}

// Summarize evaluates all metrics of c at DefaultConfidence.
func Summarize(c Counts) Summary {
	return Summary{
		Counts:     c,
		Eff:        Efficiency(c),
		NEff:       EffectiveCount(c),
		Prop:       Propagated(c),
		Clopper:    ClopperPearson(c, DefaultConfidence),
		Degenerate: c.Degenerate(),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
