package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/banshee-data/btag-effmaps/internal/effmap"
	"github.com/banshee-data/btag-effmaps/internal/unctarget"
)

// EffMapDocument is the persisted efficiency map file: dataset → flavour →
// row-major bins.
type EffMapDocument map[string]effmap.FlatMap

// NewEffMapDocument collects the maps of a batch.
func NewEffMapDocument(results []*effmap.Result) EffMapDocument {
	doc := make(EffMapDocument, len(results))
	for _, r := range results {
		doc[r.Dataset] = r.Map.Flat()
	}
	return doc
}

// WriteEffMaps writes the efficiency map file of a run.
func (n Naming) WriteEffMaps(doc EffMapDocument) (string, error) {
	path := n.EffMapPath()
	if err := ensureWithin(path, n.OutputDir); err != nil {
		return "", err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode efficiency maps: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write efficiency maps: %w", err)
	}
	return path, nil
}

// ReadEffMaps loads an efficiency map file back into addressable maps.
func ReadEffMaps(path string, eta effmap.EtaBinning) (map[string]*effmap.EfficiencyMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read efficiency maps: %w", err)
	}
	var doc EffMapDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse efficiency maps: %w", err)
	}
	out := make(map[string]*effmap.EfficiencyMap, len(doc))
	for name, flat := range doc {
		m, err := effmap.FromFlat(eta, flat)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", name, err)
		}
		out[name] = m
	}
	return out, nil
}

// UncMapStore returns the JSON uncertainty map store of this layout.
func (n Naming) UncMapStore() *unctarget.JSONFileStore {
	return unctarget.NewJSONFileStore(n.UncMapPath())
}
