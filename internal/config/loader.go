package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies the manifest encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the manifest format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported manifest extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// Load reads a launch manifest from the provided path. Relative paths inside
// the manifest are resolved against the manifest's directory.
func Load(path string) (*Manifest, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	format, err := FormatFromPath(absPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest file: %w", err)
	}

	doc, err := Parse(data, format, filepath.Dir(absPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	doc.Path = absPath
	return doc, nil
}

// Parse decodes, validates and resolves a manifest. baseDir anchors a
// relative launcher root.
func Parse(data []byte, format Format, baseDir string) (*Manifest, error) {
	raw, err := decodeRaw(data, format)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	var doc Manifest
	if err := decodeStrict(data, format, &doc); err != nil {
		return nil, err
	}
	if err := doc.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	doc.Resolve(baseDir)
	return &doc, nil
}

func decodeRaw(data []byte, format Format) (map[string]any, error) {
	raw := map[string]any{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func decodeStrict(data []byte, format Format, doc *Manifest) error {
	switch format {
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(doc); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
	case FormatTOML:
		meta, err := toml.Decode(string(data), doc)
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			sort.Strings(keys)
			return fmt.Errorf("decode: unknown fields %s", strings.Join(keys, ", "))
		}
	default:
		return fmt.Errorf("unsupported manifest format %q", format)
	}
	return nil
}

// Marshal renders the manifest in the given format.
func Marshal(doc *Manifest, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		buf := &bytes.Buffer{}
		encoder := yaml.NewEncoder(buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(doc); err != nil {
			return nil, err
		}
		if err := encoder.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatTOML:
		buf := &bytes.Buffer{}
		if err := toml.NewEncoder(buf).Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
}
