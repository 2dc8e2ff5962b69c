// Package report writes efficiency maps, uncertainty maps and their plots.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/btag-effmaps/internal/calib"
)

// Naming derives the output file layout of one calibration.
type Naming struct {
	OutputDir    string
	Algo         string
	WorkingPoint string
	Year         string
	APV          bool
}

// NewNaming returns the layout for a resolved calibration.
func NewNaming(outputDir string, c calib.Context) Naming {
	return Naming{
		OutputDir:    outputDir,
		Algo:         string(c.Algorithm),
		WorkingPoint: string(c.WorkingPoint),
		Year:         c.Year,
		APV:          c.APV,
	}
}

func (n Naming) suffix() string {
	return fmt.Sprintf("%s-%s-%s-%t", n.Algo, n.WorkingPoint, n.Year, n.APV)
}

// EffMapPath is <output>/btageffmap-<algo>-<wp>-<year>-<apv>.json.
func (n Naming) EffMapPath() string {
	return filepath.Join(n.OutputDir, "btageffmap-"+n.suffix()+".json")
}

// UncMapPath is <output>/btaguncmap-<algo>-<wp>-<year>-<apv>.json.
func (n Naming) UncMapPath() string {
	return filepath.Join(n.OutputDir, "btaguncmap-"+n.suffix()+".json")
}

// PlotDir is <output>/<year>, or <output>/APV_<year> for the APV period.
func (n Naming) PlotDir() string {
	if n.APV {
		return filepath.Join(n.OutputDir, "APV_"+n.Year)
	}
	return filepath.Join(n.OutputDir, n.Year)
}

// PlotPath returns the PNG path of a dataset.
func (n Naming) PlotPath(dataset string) string {
	return filepath.Join(n.PlotDir(), fmt.Sprintf("%s_effetabin_%s-%s.png", SanitizeName(dataset), n.Algo, n.WorkingPoint))
}

// HTMLPath returns the interactive chart path of a dataset.
func (n Naming) HTMLPath(dataset string) string {
	return filepath.Join(n.PlotDir(), fmt.Sprintf("%s_effetabin_%s-%s.html", SanitizeName(dataset), n.Algo, n.WorkingPoint))
}

// SanitizeName makes a dataset name safe to embed in a file name: anything
// other than ASCII letters, digits, dot, underscore or dash becomes a single
// underscore.
func SanitizeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ensureWithin creates the parent directory of path after checking that the
// path does not escape dir.
func ensureWithin(path, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return os.MkdirAll(filepath.Dir(absPath), 0755)
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
