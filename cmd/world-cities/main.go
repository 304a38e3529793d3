// Command world-cities generates the region corpus used by the region picker.
//
// Usage:
//
//	go run ./cmd/world-cities [--config worldcities.yaml] [--offline] [--strict] [--deploy]
//
// Providers are downloaded into ./worldcities-data/ (falling back to the
// cached files there, then to the embedded defaults) and the artifacts are
// written to ./output/. With --deploy the artifact is also copied to
// paths.finalDestination.
//
// Exit status is 0 on success (validation warnings included), 1 on a fatal
// error and 2 when --strict is set and validation reported errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"

	"github.com/andreiashu/worldcities"
	"github.com/andreiashu/worldcities/internal/config"
)

const (
	exitOK               = 0
	exitFatal            = 1
	exitValidationFailed = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("world-cities", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	debug := flags.Bool("debug", false, "verbose logging and stack traces on fatal errors")
	dev := flags.Bool("dev", false, "development run (logged only)")
	force := flags.Bool("force", false, "force regeneration (logged only)")
	configFile := flags.String("config", "", "path to a config file (yaml, json or toml)")
	flags.Bool("deploy", false, "copy the artifact to paths.finalDestination")
	flags.Bool("strict", false, "exit 2 and skip deploy when validation reports errors")
	flags.Bool("offline", false, "skip downloads; use cache files and built-in data")
	flags.String("output", "", "output directory (overrides paths.output)")
	flags.String("cache", "", "cache directory (overrides paths.cache)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitFatal
	}

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	logger := config.NewLogger(cfg.Log, stderr)

	p := worldcities.NewPipeline(cfg,
		worldcities.WithLogger(logger),
		worldcities.WithHints(*dev, *force))
	res, err := p.Run(ctx)
	if res != nil {
		printSummary(stdout, res)
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, worldcities.ErrValidationFailed):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitValidationFailed
	default:
		if *debug {
			fmt.Fprintln(stderr, eris.ToString(err, true))
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return exitFatal
	}
}

func printSummary(w io.Writer, res *worldcities.Result) {
	st := res.Stats
	fmt.Fprintln(w, "World cities generated")
	fmt.Fprintf(w, "  processed: %d\n", st.Processed)
	fmt.Fprintf(w, "  generated: %d\n", st.Generated)
	fmt.Fprintf(w, "  countries: %d (capitals: %d)\n", st.Countries, st.Capitals)
	fmt.Fprintf(w, "  warnings:  %d\n", res.Report.Warnings)
	fmt.Fprintf(w, "  errors:    %d\n", res.Report.Errors)
	fmt.Fprintf(w, "  duration:  %s\n", st.Duration)

	top := st.TopCountries(10)
	if len(top) > 0 {
		parts := make([]string, len(top))
		for i, c := range top {
			parts[i] = fmt.Sprintf("%s (%d)", c, st.CountryCounts[c])
		}
		fmt.Fprintf(w, "  top countries: %s\n", strings.Join(parts, ", "))
	}
	for _, s := range st.Sources {
		fmt.Fprintf(w, "  source %s: %s, %d bytes\n", s.ID, s.Origin, s.Bytes)
	}
	fmt.Fprintf(w, "  artifact: %s\n", res.ArtifactPath)
	if res.DeployedTo != "" {
		fmt.Fprintf(w, "  deployed to: %s\n", res.DeployedTo)
	}
}
