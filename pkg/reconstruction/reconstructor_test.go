package reconstruction

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"mustard/internal/models"
	"mustard/pkg/config"
	"mustard/pkg/estimator"
	"mustard/pkg/model"
	"mustard/pkg/rotation"
	"mustard/pkg/store"
)

// blob returns a gaussian of the given amplitude centred on (cx, cy)
func blob(size int, cx, cy, amp, sigma float64) []float64 {
	d := make([]float64, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			d[y*size+x] = amp * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
		}
	}
	return d
}

// writeScene writes a small synthetic ADI sequence and returns the cube and
// angle paths
func writeScene(t *testing.T, dir string) (string, string) {
	const size = 16
	angles := []float64{0, 25, 50, 75}
	c := float64(size / 2)
	star := blob(size, c-3, c-3, 10, 1.5)
	disk := blob(size, c+4, c, 3, 1)

	cube := models.NewCube(len(angles), size)
	for i, a := range angles {
		rotated := rotation.Rotate(disk, size, a)
		for k := range star {
			cube.Frames[i].Data[k] = star[k] + math.Max(rotated[k], 0)
		}
	}

	cubePath := filepath.Join(dir, "cube.fits")
	anglesPath := filepath.Join(dir, "angles.fits")
	if err := store.WriteCube(cubePath, cube); err != nil {
		t.Fatalf("Failed to write cube: %v", err)
	}
	if err := store.WriteVector(anglesPath, angles); err != nil {
		t.Fatalf("Failed to write angles: %v", err)
	}
	return cubePath, anglesPath
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Model.CoroRadius = 2
	cfg.Model.Workers = 2
	cfg.Optimization.MaxIter = 4
	cfg.Optimization.InnerIterations = 5
	cfg.Output.Dir = dir
	return cfg
}

// TestBasicReconstructor runs the whole pipeline and checks every output file
func TestBasicReconstructor(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dir := t.TempDir()
	cubePath, anglesPath := writeScene(t, dir)

	r := NewReconstructor(&Params{
		CubePath:   cubePath,
		AnglesPath: anglesPath,
		Config:     testConfig(dir),
	})
	if err := r.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	res := r.Result()
	if res == nil {
		t.Fatal("Expected a result")
	}
	if res.Iterations == 0 {
		t.Error("Expected at least one iteration")
	}
	for _, v := range res.Losses {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("Non-finite loss %v", v)
		}
	}

	out := filepath.Join(dir, "mustard_out")
	if r.OutputDir() != out {
		t.Errorf("Expected output dir %s, got %s", out, r.OutputDir())
	}
	for _, name := range []string{
		"L_est.fits", "X_est.fits", "uncertainty.fits", "model.fits", "residuals.fits", "sky.fits", "config.txt",
		"convergence.png", "L_est.jpg", "X_est.jpg",
		filepath.Join("residuals", "residual_000.jpg"),
		filepath.Join("residuals", "residual_003.jpg"),
	} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("Expected output %s: %v", name, err)
		}
	}

	x, err := store.ReadFrame(filepath.Join(out, "X_est.fits"))
	if err != nil {
		t.Fatalf("Failed to read X_est: %v", err)
	}
	if x.Size != 16 {
		t.Errorf("Expected a 16x16 map, got %d", x.Size)
	}
	for k, v := range x.Data {
		if v < 0 {
			t.Fatalf("Negative pixel %d in X_est: %v", k, v)
		}
	}
}

func TestReconstructorBadFrames(t *testing.T) {
	dir := t.TempDir()
	cubePath, anglesPath := writeScene(t, dir)
	cfg := testConfig(dir)
	cfg.Optimization.MaxIter = 1
	cfg.Preprocess.BadFrames = []int{1}
	cfg.Output.Previews = false
	cfg.Output.Plots = false

	r := NewReconstructor(&Params{CubePath: cubePath, AnglesPath: anglesPath, Config: cfg})
	if err := r.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if n := r.Result().Residual(model.Direct).Len(); n != 3 {
		t.Errorf("Expected 3 frames after removal, got %d", n)
	}
}

func TestReconstructorAngleMismatch(t *testing.T) {
	dir := t.TempDir()
	cubePath, _ := writeScene(t, dir)
	anglesPath := filepath.Join(dir, "short.fits")
	if err := store.WriteVector(anglesPath, []float64{0, 10}); err != nil {
		t.Fatal(err)
	}

	r := NewReconstructor(&Params{CubePath: cubePath, AnglesPath: anglesPath, Config: testConfig(dir)})
	err := r.Process(context.Background())
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected shape mismatch, got %v", err)
	}
}

func TestReconstructorPriorMaskRequired(t *testing.T) {
	dir := t.TempDir()
	cubePath, anglesPath := writeScene(t, dir)
	cfg := testConfig(dir)
	cfg.Regularization.R2 = "mask"

	r := NewReconstructor(&Params{CubePath: cubePath, AnglesPath: anglesPath, Config: cfg})
	err := r.Process(context.Background())
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if r.Result() != nil {
		t.Error("Expected no result before minimization")
	}
}

// TestReconstructorInterrupted checks that a cancelled run still saves its outputs
func TestReconstructorInterrupted(t *testing.T) {
	dir := t.TempDir()
	cubePath, anglesPath := writeScene(t, dir)
	cfg := testConfig(dir)
	cfg.Output.Previews = false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReconstructor(&Params{CubePath: cubePath, AnglesPath: anglesPath, Config: cfg})
	if err := r.Process(ctx); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if r.Result().Reason != estimator.Interrupted {
		t.Errorf("Expected interrupted, got %v", r.Result().Reason)
	}
	if _, err := os.Stat(filepath.Join(r.OutputDir(), "L_est.fits")); err != nil {
		t.Errorf("Expected L_est.fits: %v", err)
	}
}
