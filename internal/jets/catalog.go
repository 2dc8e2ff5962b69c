package jets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrDatasetNotFound is returned when a catalog has no dataset by that name.
var ErrDatasetNotFound = errors.New("dataset not found")

// Catalog supplies named weighted jet tables.
type Catalog interface {
	// Names lists the datasets the catalog can load, sorted.
	Names() ([]string, error)
	// Load reads one dataset.
	Load(name string) (*Dataset, error)
}

// LoadAll loads the named datasets, or every dataset when names is empty.
func LoadAll(c Catalog, names []string) (map[string]*Dataset, error) {
	if len(names) == 0 {
		var err error
		names, err = c.Names()
		if err != nil {
			return nil, err
		}
	}
	out := make(map[string]*Dataset, len(names))
	for _, name := range names {
		ds, err := c.Load(name)
		if err != nil {
			return nil, err
		}
		out[name] = ds
	}
	return out, nil
}

// MemoryCatalog serves datasets held in memory.
type MemoryCatalog map[string]*Dataset

// Names returns the dataset names.
func (m MemoryCatalog) Names() ([]string, error) { return Names(m), nil }

// Load returns the named dataset.
func (m MemoryCatalog) Load(name string) (*Dataset, error) {
	ds, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	return ds, nil
}

// CSVCatalog reads one <name>.csv file per dataset from Dir.
type CSVCatalog struct {
	Dir string
}

// NewCSVCatalog returns a catalog rooted at dir.
func NewCSVCatalog(dir string) *CSVCatalog {
	return &CSVCatalog{Dir: dir}
}

// Names lists the .csv files in the catalog directory.
func (c *CSVCatalog) Names() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads <Dir>/<name>.csv.
func (c *CSVCatalog) Load(name string) (*Dataset, error) {
	path := filepath.Join(c.Dir, name+".csv")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
		}
		return nil, fmt.Errorf("failed to open dataset %s: %w", name, err)
	}
	defer f.Close()

	jets, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	ds := &Dataset{Name: name, Jets: jets}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Column names accepted in the CSV header. The second spelling is the
// ntuple branch name.
var columnAliases = map[string]string{
	"event_id":          "event_id",
	"eventposition":     "event_id",
	"jet_id":            "jet_id",
	"jet_jetid":         "jet_id",
	"pt":                "pt",
	"jet_pt":            "pt",
	"eta":               "eta",
	"jet_eta":           "eta",
	"weight":            "weight",
	"evtweight":         "weight",
	"hadron_flavour":    "hadron_flavour",
	"jet_hadronflavour": "hadron_flavour",
	"btag_deepb":        "btag_deepb",
	"jet_btagdeepb":     "btag_deepb",
	"btag_deepflavb":    "btag_deepflavb",
	"jet_btagdeepflavb": "btag_deepflavb",
}

var requiredColumns = []string{"pt", "eta", "weight", "hadron_flavour"}

// ReadCSV parses a jet table with a header row. pt, eta, weight and
// hadron_flavour are required; the discriminant and id columns are optional.
func ReadCSV(r io.Reader) ([]JetRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if canon, ok := columnAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			idx[canon] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	var out []JetRecord
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		j, err := parseRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, j)
	}
	return out, nil
}

func parseRow(rec []string, idx map[string]int) (JetRecord, error) {
	var j JetRecord
	float := func(col string, dst *float64) error {
		i, ok := idx[col]
		if !ok {
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", col, rec[i], err)
		}
		*dst = v
		return nil
	}
	integer := func(col string) (int64, error) {
		i, ok := idx[col]
		if !ok {
			return 0, nil
		}
		v, err := strconv.ParseInt(strings.TrimSpace(rec[i]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s '%s': %w", col, rec[i], err)
		}
		return v, nil
	}

	for col, dst := range map[string]*float64{
		"pt":             &j.Pt,
		"eta":            &j.Eta,
		"weight":         &j.Weight,
		"btag_deepb":     &j.DeepCSV,
		"btag_deepflavb": &j.DeepJet,
	} {
		if err := float(col, dst); err != nil {
			return j, err
		}
	}
	ev, err := integer("event_id")
	if err != nil {
		return j, err
	}
	jid, err := integer("jet_id")
	if err != nil {
		return j, err
	}
	hf, err := integer("hadron_flavour")
	if err != nil {
		return j, err
	}
	j.EventID, j.JetID, j.HadronFlavour = ev, int(jid), int(hf)
	return j, nil
}

// WriteCSV writes jets in the canonical column layout read by ReadCSV.
func WriteCSV(w io.Writer, jets []JetRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"event_id", "jet_id", "pt", "eta", "weight", "hadron_flavour", "btag_deepb", "btag_deepflavb"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, j := range jets {
		row := []string{
			strconv.FormatInt(j.EventID, 10),
			strconv.Itoa(j.JetID),
			f(j.Pt), f(j.Eta), f(j.Weight),
			strconv.Itoa(j.HadronFlavour),
			f(j.DeepCSV), f(j.DeepJet),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
