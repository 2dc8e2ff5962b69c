package run

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/btag-effmaps/internal/config"
	"github.com/banshee-data/btag-effmaps/internal/db"
	"github.com/banshee-data/btag-effmaps/internal/effmap"
	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/banshee-data/btag-effmaps/internal/ptrange"
	"github.com/banshee-data/btag-effmaps/internal/report"
)

// Dataset statuses recorded per outcome.
const (
	StatusOK             = "ok"
	StatusDegenerate     = "degenerate"
	StatusNonConvergence = "non-convergence"
	StatusFailed         = "failed"
)

// Outcome is the result of one dataset. Result is nil when no map could be
// built.
type Outcome struct {
	Dataset string
	Result  *effmap.Result
	Err     error
}

// Status classifies the outcome.
func (o Outcome) Status() string {
	switch {
	case o.Err == nil:
		return StatusOK
	case errors.Is(o.Err, ErrDegenerateInput):
		return StatusDegenerate
	case errors.Is(o.Err, ErrNonConvergence):
		return StatusNonConvergence
	}
	return StatusFailed
}

// Report summarises a run.
type Report struct {
	RunID    string
	Search   ptrange.Result
	Excluded []string // datasets left out of the pt range search
	Outcomes []Outcome
	Files    []string
}

// Failed counts datasets without a map.
func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result == nil {
			n++
		}
	}
	return n
}

// Status is the overall run status recorded in the history.
func (r *Report) Status() string {
	switch failed := r.Failed(); {
	case failed == 0:
		return StatusOK
	case failed == len(r.Outcomes):
		return StatusFailed
	}
	return "partial"
}

// Run executes the batch: pt range search, one map per dataset, then the
// writers, the target store and the run history. Per-dataset failures are
// reported in the outcomes; the returned error is reserved for failures
// that stop the whole run.
func (c *Context) Run() (*Report, error) {
	rep := &Report{}
	if err := c.startHistory(rep); err != nil {
		return nil, err
	}

	search, excluded, err := c.FindPtMax()
	rep.Search, rep.Excluded = search, excluded
	if err != nil {
		if !errors.Is(err, ErrNonConvergence) {
			c.finishHistory(rep, StatusFailed)
			return rep, err
		}
		opsf("pt range search: %v", err)
	}

	builder := c.Builder(search.PtMax)
	if err := builder.Validate(); err != nil {
		c.finishHistory(rep, StatusFailed)
		return rep, fatalf("%v", err)
	}
	if c.History != nil {
		if err := c.History.SetRunPtMax(rep.RunID, search.PtMax); err != nil {
			opsf("%v", err)
		}
	}

	adaptive := c.Config.GetAdaptive()
	var results []*effmap.Result
	for _, name := range jets.Names(c.Datasets) {
		o := c.buildOne(builder, name, adaptive)
		rep.Outcomes = append(rep.Outcomes, o)
		if o.Result != nil {
			results = append(results, o.Result)
		}
		diagf("%s: %s", name, o.Status())
	}

	if err := c.writeOutputs(rep, results); err != nil {
		c.finishHistory(rep, StatusFailed)
		return rep, err
	}
	c.recordHistory(rep)
	c.finishHistory(rep, rep.Status())
	return rep, nil
}

func (c *Context) buildOne(b effmap.Builder, name string, adaptive bool) Outcome {
	o := Outcome{Dataset: name}
	targets, err := c.Targets.Resolve(name, adaptive)
	if err != nil {
		o.Err = err
		return o
	}
	res, err := b.Build(c.Datasets[name], targets)
	o.Err = classify(err)
	if err != nil {
		opsf("dataset %s: %v", name, err)
		if res == nil {
			return o
		}
	}
	o.Result = res
	if adaptive {
		c.Targets.Update(name, res.Targets)
	}
	return o
}

func (c *Context) writeOutputs(rep *Report, results []*effmap.Result) error {
	path, err := c.Naming.WriteEffMaps(report.NewEffMapDocument(results))
	if err != nil {
		return err
	}
	rep.Files = append(rep.Files, path)

	if err := c.Store.Save(c.Targets); err != nil {
		return fmt.Errorf("failed to save uncertainty targets: %w", err)
	}
	if c.Config.GetTargetStore() != config.TargetStoreSQLite {
		rep.Files = append(rep.Files, c.Naming.UncMapPath())
	}

	for _, res := range results {
		if c.Config.GetPlots() {
			path, err := c.Naming.WritePlot(res.Dataset, res.Map)
			if err != nil {
				return err
			}
			rep.Files = append(rep.Files, path)
		}
		if c.Config.GetHTML() {
			path, err := c.Naming.WriteHTML(res.Dataset, res.Map)
			if err != nil {
				return err
			}
			rep.Files = append(rep.Files, path)
		}
	}
	for _, f := range rep.Files {
		diagf("wrote %s", f)
	}
	return nil
}

func (c *Context) startHistory(rep *Report) error {
	if c.History == nil {
		return nil
	}
	cfgJSON, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("failed to encode run config: %w", err)
	}
	r := &db.Run{
		Period:       c.Calib.Period(),
		Algo:         string(c.Calib.Algorithm),
		WorkingPoint: string(c.Calib.WorkingPoint),
		Threshold:    c.Calib.Threshold,
		PtMin:        c.Config.GetPtMin(),
		PtMax:        c.Config.GetPtMax(),
		Adaptive:     c.Config.GetAdaptive(),
		ConfigJSON:   string(cfgJSON),
	}
	if err := c.History.CreateRun(r); err != nil {
		return err
	}
	rep.RunID = r.RunID
	opsf("run %s started", r.RunID)
	return nil
}

// recordHistory stores outcomes and bins. History failures are logged and
// never fail the run.
func (c *Context) recordHistory(rep *Report) {
	if c.History == nil {
		return
	}
	for _, o := range rep.Outcomes {
		row := db.DatasetOutcome{RunID: rep.RunID, Dataset: o.Dataset, Status: o.Status()}
		if o.Result != nil {
			row.Flags = o.Result.Flags.String()
		}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		if err := c.History.RecordDatasetOutcome(row); err != nil {
			opsf("%v", err)
		}
		if o.Result == nil {
			continue
		}
		if err := c.History.RecordBins(rep.RunID, o.Result); err != nil {
			opsf("failed to record bins of %s: %v", o.Dataset, err)
		}
	}
}

func (c *Context) finishHistory(rep *Report, status string) {
	if c.History == nil || rep.RunID == "" {
		return
	}
	if err := c.History.FinishRun(rep.RunID, status); err != nil {
		opsf("%v", err)
	}
}
