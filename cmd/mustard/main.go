package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"mustard/pkg/config"
	"mustard/pkg/logging"
	"mustard/pkg/reconstruction"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "mustard.yaml", "Configuration file (YAML or JSON5)")
	cubePath := flag.String("cube", "", "FITS cube of the ADI sequence")
	anglesPath := flag.String("angles", "", "FITS vector of parallactic angles in degrees")
	psfPath := flag.String("psf", "", "FITS PSF convolved into the circumstellar map")
	maskPath := flag.String("mask", "", "FITS prior mask for the R2 penalty")
	outDir := flag.String("out", "", "Output directory (overrides the configuration)")
	suffix := flag.String("suffix", "", "Suffix appended to every output name")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	flag.Parse()

	// Optional .env overrides
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fail("error loading .env file: %v", err)
	}
	if v := os.Getenv("MUSTARD_CONFIG"); v != "" && !isSet("config") {
		*configPath = v
	}

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fail("%v", err)
		}
		color.Green("Default configuration written to %s", *configPath)
		return
	}
	if *cubePath == "" || *anglesPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fail("%v", err)
	}
	applyOverrides(cfg, *psfPath, *maskPath, *outDir, *suffix, *logLevel)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fail("%v", err)
	}
	defer logger.Sync()

	banner := color.New(color.FgCyan, color.Bold)
	banner.Println("================================")
	banner.Println("MUSTARD: starlight and circumstellar separation of ADI sequences")
	banner.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconstructor := reconstruction.NewReconstructor(&reconstruction.Params{
		CubePath:   *cubePath,
		AnglesPath: *anglesPath,
		Config:     cfg,
		Logger:     logger,
	})

	startTime := time.Now()
	if err := reconstructor.Process(ctx); err != nil {
		logger.Error("reconstruction failed", zap.Error(err))
		fail("Reconstruction failed: %v", err)
	}
	printSummary(reconstructor, time.Since(startTime))
}

// applyOverrides applies the flags, then the MUSTARD_* environment, on top
// of the loaded configuration
func applyOverrides(cfg *config.Config, psf, mask, outDir, suffix, level string) {
	set := func(dst *string, flagValue, env string) {
		if flagValue != "" {
			*dst = flagValue
		} else if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	set(&cfg.Model.PSF, psf, "MUSTARD_PSF")
	set(&cfg.Regularization.Mask, mask, "MUSTARD_MASK")
	set(&cfg.Output.Dir, outDir, "MUSTARD_OUT_DIR")
	set(&cfg.Output.Suffix, suffix, "MUSTARD_SUFFIX")
	set(&cfg.Logging.Level, level, "MUSTARD_LOG_LEVEL")
	set(&cfg.Logging.File, "", "MUSTARD_LOG_FILE")
}

func isSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printSummary(r *reconstruction.Reconstructor, elapsed time.Duration) {
	res := r.Result()
	ok := color.New(color.FgGreen, color.Bold)
	dim := color.New(color.FgHiBlack)

	ok.Printf("\nReconstruction completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Run: %s\n", res.RunID)
	fmt.Printf("Ended: %s after %d iterations\n", res.Reason, res.Iterations)
	if len(res.Losses) > 0 {
		fmt.Printf("Final loss: %.6e\n", res.Losses[len(res.Losses)-1])
	}
	r1, r2, pos := res.LossRatio()
	fmt.Printf("Regularization share of the data loss: R1 %.2f%%, R2 %.2f%%, positivity %.2f%%\n",
		100*r1, 100*r2, 100*pos)
	dim.Printf("Outputs saved to: %s\n", r.OutputDir())
}

func fail(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
