// Package configfile decodes the YAML or JSON registry files the service is
// configured with.
package configfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type unmarshalFn func([]byte, any) error

type decoder struct {
	name string
	ext  string
	fn   unmarshalFn
}

var decoders = []decoder{
	{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
	{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
	{name: "json", ext: ".json", fn: json.Unmarshal},
}

// Load reads the file at path and decodes it into v. kind names the file in
// errors, e.g. "topics".
func Load(path, kind string, v any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%s file path is empty", kind)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s file: %w", kind, err)
	}
	return Decode(raw, filepath.Ext(path), kind, v)
}

// Decode picks the decoder by extension. Unknown or empty extensions are
// tried as YAML, then JSON.
func Decode(data []byte, ext, kind string, v any) error {
	ext = strings.ToLower(strings.TrimSpace(ext))
	known := lo.ContainsBy(decoders, func(d decoder) bool { return d.ext == ext })

	var errs []error
	for _, d := range decoders {
		if known && ext != d.ext {
			continue
		}
		if err := d.fn(data, v); err != nil {
			errs = append(errs, fmt.Errorf("decode %s %s: %w", d.name, kind, err))
			continue
		}
		return nil
	}
	return fmt.Errorf("%s file format not recognized (expected YAML or JSON): %w", kind, errors.Join(errs...))
}
