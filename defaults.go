package worldcities

import (
	"embed"
	"fmt"
)

// builtinData holds the default datasets used when neither the network nor
// the cache can provide a payload. cities.json alone is enough to produce a
// usable corpus offline.
//
//go:embed defaults/cities.json defaults/countries.json
var builtinData embed.FS

func builtinDataset(name string) ([]byte, error) {
	data, err := builtinData.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading built-in dataset %s: %w", name, err)
	}
	return data, nil
}
