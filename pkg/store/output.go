package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"

	"mustard/pkg/estimator"
)

// Output is the directory of one run: <dir>/mustard_out<suffix>/
type Output struct {
	dir    string
	suffix string
}

// NewOutput creates the output directory under dir
func NewOutput(dir, suffix string) (*Output, error) {
	if dir == "" {
		dir = "."
	}
	out := &Output{dir: filepath.Join(dir, "mustard_out"+suffix), suffix: suffix}
	if err := os.MkdirAll(out.dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}
	return out, nil
}

// Dir returns the output directory
func (o *Output) Dir() string { return o.dir }

// Path returns the path of name<suffix><ext> inside the output directory
func (o *Output) Path(name, ext string) string {
	return filepath.Join(o.dir, name+o.suffix+ext)
}

// SaveResult writes the estimated maps, the flux vectors and the run log.
// Empty flux vectors are skipped.
func (o *Output) SaveResult(res *estimator.Result) error {
	cards := []fitsio.Card{
		{Name: "RUNID", Value: res.RunID, Comment: "run identifier"},
		{Name: "NITER", Value: res.Iterations, Comment: "outer iterations"},
		{Name: "KACTIV", Value: res.KActiv, Comment: "regularization activation"},
	}
	if err := WriteFrame(o.Path("L_est", ".fits"), res.L, cards...); err != nil {
		return err
	}
	if err := WriteFrame(o.Path("X_est", ".fits"), res.X, cards...); err != nil {
		return err
	}
	if len(res.FluxX) > 0 {
		if err := WriteVector(o.Path("flux", ".fits"), res.FluxX, cards...); err != nil {
			return err
		}
	}
	if len(res.FluxL) > 0 {
		if err := WriteVector(o.Path("fluxR", ".fits"), res.FluxL, cards...); err != nil {
			return err
		}
	}
	return o.SaveLog(res.Log)
}

// SaveLog writes the run log as config<suffix>.txt
func (o *Output) SaveLog(lines []string) error {
	path := o.Path("config", ".txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("error writing run log: %w", err)
	}
	return nil
}
