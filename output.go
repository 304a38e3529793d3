package worldcities

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// writeFileAtomic writes data to a temp file in the destination directory and
// renames it over path, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// marshalJSON encodes v with indent spaces per level (0 = compact) and a
// trailing newline.
func marshalJSON(v any, indent int) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if indent > 0 {
		data, err = json.MarshalIndent(v, "", strings.Repeat(" ", indent))
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// EncodeRegions renders the artifact body. An empty set encodes as [].
func EncodeRegions(regions []Region, indent int) ([]byte, error) {
	if regions == nil {
		regions = []Region{}
	}
	data, err := marshalJSON(regions, indent)
	if err != nil {
		return nil, fmt.Errorf("encoding regions: %w", err)
	}
	return data, nil
}

// ReadRegions decodes an artifact written by EncodeRegions.
func ReadRegions(path string) ([]Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var regions []Region
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&regions); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return regions, nil
}

// deployArtifact copies the artifact at src over dest, creating dest's
// directory when needed.
func deployArtifact(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading artifact: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating deploy directory: %w", err)
	}
	if err := writeFileAtomic(dest, data, 0o644); err != nil {
		return fmt.Errorf("deploying artifact: %w", err)
	}
	return nil
}
