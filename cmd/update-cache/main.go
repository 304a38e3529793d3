// Command update-cache downloads every provider into the cache directory
// without generating the corpus.
//
// Usage:
//
//	go run ./cmd/update-cache [--config worldcities.yaml] [--cache ./worldcities-data]
//
// Providers that cannot be downloaded keep their previous cache file. The
// command fails only when the cache directory cannot be created.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/andreiashu/worldcities"
	"github.com/andreiashu/worldcities/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("update-cache", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to a config file (yaml, json or toml)")
	flags.String("cache", "", "cache directory (overrides paths.cache)")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	// a refresh always goes to the network
	cfg.Sources.Offline = false
	logger := config.NewLogger(cfg.Log, os.Stderr)

	fmt.Printf("Refreshing provider cache in %s...\n", cfg.Paths.Cache)

	reports, err := worldcities.RefreshCache(context.Background(), cfg, worldcities.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, r := range reports {
		status := "ok"
		if r.Origin != worldcities.OriginNetwork {
			status = fmt.Sprintf("kept %s", r.Origin)
			if r.Err != nil {
				status += fmt.Sprintf(" (%v)", r.Err)
			}
		}
		fmt.Printf("  %-22s %8d bytes  %s\n", r.Source, r.Bytes, status)
	}
	fmt.Println("Cache refreshed.")
}
