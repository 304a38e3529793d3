package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	out := t.TempDir()
	cache := t.TempDir()
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"--offline", "--output", out, "--cache", cache}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("run() = %d, stderr:\n%s", code, stderr.String())
	}
	for _, want := range []string{"generated: 244", "countries: 69 (capitals: 68)", "source geonamesCities15000: builtin"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, stdout.String())
		}
	}
	for _, name := range []string{"world-cities.json", "generation-stats.json", "generation.prom"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}

func TestRun_ExitCodes(t *testing.T) {
	strictCfg := filepath.Join(t.TempDir(), "strict.yaml")
	err := os.WriteFile(strictCfg, []byte("validation:\n  requiredFields: [slug, population]\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"help", []string{"--help"}, exitOK},
		{"unknown flag", []string{"--bogus"}, exitFatal},
		{"missing config file", []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}, exitFatal},
		{"advisory validation errors", []string{"--offline", "--config", strictCfg}, exitOK},
		{"strict validation errors", []string{"--offline", "--strict", "--config", strictCfg}, exitValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--output", t.TempDir(), "--cache", t.TempDir()}, tt.args...)
			var stdout, stderr bytes.Buffer
			if got := run(context.Background(), args, &stdout, &stderr); got != tt.want {
				t.Errorf("run(%v) = %d, want %d\nstderr:\n%s", tt.args, got, tt.want, stderr.String())
			}
		})
	}
}

func TestRun_OutputDirIsAFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "out")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--offline", "--debug", "--output", blocker, "--cache", t.TempDir()}, &stdout, &stderr)
	if code != exitFatal {
		t.Fatalf("run() = %d, want %d", code, exitFatal)
	}
	if !strings.Contains(stderr.String(), "cannot create output directory") {
		t.Errorf("stderr should name the failure:\n%s", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("no summary expected on a fatal error, got:\n%s", stdout.String())
	}
}
