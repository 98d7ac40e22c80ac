// Command onnxpipe trains a vectorizer + gradient boosting pipeline on
// mapping-typed records, exports it to ONNX and checks the artifact in an
// inference session.
//
//	onnxpipe -out pipeline_vectorize.onnx -plot agreement.png -db runs.db
//
// Flags override values read from -config.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/scigo/onnxpipe/pkg/errors"
	"github.com/scigo/onnxpipe/pkg/log"
	"github.com/scigo/onnxpipe/workflow"
)

type flags struct {
	config     string
	out        string
	seed       uint64
	samples    int
	csv        string
	target     string
	estimators int
	workers    int
	plot       string
	db         string
	logLevel   string
	logFormat  string
}

func newFlagSet(f *flags) *flag.FlagSet {
	fs := flag.NewFlagSet("onnxpipe", flag.ContinueOnError)
	fs.StringVar(&f.config, "config", "", "YAML config file")
	fs.StringVar(&f.out, "out", workflow.DefaultArtifact, "path of the exported ONNX model")
	fs.Uint64Var(&f.seed, "seed", 42, "seed for data generation, split and subsampling")
	fs.IntVar(&f.samples, "samples", 506, "number of synthetic samples")
	fs.StringVar(&f.csv, "csv", "", "load records from a numeric CSV file instead")
	fs.StringVar(&f.target, "target", "", "target column of -csv (default: last)")
	fs.IntVar(&f.estimators, "estimators", 100, "boosting stages")
	fs.IntVar(&f.workers, "workers", 0, "per-record inference workers (0: one per CPU)")
	fs.StringVar(&f.plot, "plot", "", "write an agreement plot to this PNG")
	fs.StringVar(&f.db, "db", "", "record the run in this SQLite ledger")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "console", "json or console")
	return fs
}

// loadConfig reads -config, if any, and applies the flags that were set on
// the command line.
func loadConfig(fs *flag.FlagSet, f *flags) (*workflow.Config, error) {
	cfg := workflow.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = workflow.LoadConfig(f.config); err != nil {
			return nil, err
		}
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "out":
			cfg.Export.Path = f.out
		case "seed":
			cfg.Seed = f.seed
		case "samples":
			cfg.Dataset.Samples = f.samples
		case "csv":
			cfg.Dataset.CSV = f.csv
		case "target":
			cfg.Dataset.Target = f.target
		case "estimators":
			cfg.Model.NEstimators = f.estimators
		case "workers":
			cfg.Verify.Workers = f.workers
			cfg.Model.Workers = f.workers
		case "plot":
			cfg.Report.AgreementPlot = f.plot
		case "db":
			cfg.Store.Path = f.db
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "log-format":
			cfg.Log.Format = f.logFormat
		}
	})
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var f flags
	fs := newFlagSet(&f)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, &f)
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if err := log.Setup(stderr, cfg.Log.Format, level); err != nil {
		return err
	}

	_, err = workflow.Run(ctx, cfg, stdout)
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.GetLoggerWithName("onnxpipe").Error("Run failed", "error", err)
		fmt.Fprintf(os.Stderr, "onnxpipe: %v\n", err)
		stop()
		os.Exit(1)
	}
}
