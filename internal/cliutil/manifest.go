package cliutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Paintersrp/muther/internal/config"
)

// DefaultManifestName is looked up next to the launcher and in the working
// directory when no manifest is given.
const DefaultManifestName = "muther.yaml"

// BuiltinSource is the Source of the built-in manifest.
const BuiltinSource = "built-in"

// ManifestDocument bundles a loaded manifest with where it came from.
type ManifestDocument struct {
	Manifest *config.Manifest
	Source   string
}

// LoadManifest loads the manifest at path. An empty path falls back to
// muther.yaml in the working directory, then next to the launcher, and
// finally to the built-in manifest rooted at the launcher's directory.
func LoadManifest(path string) (*ManifestDocument, error) {
	if path != "" {
		doc, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		return &ManifestDocument{Manifest: doc, Source: doc.Path}, nil
	}

	root, err := config.DefaultRoot()
	if err != nil {
		return nil, err
	}
	for _, dir := range candidateDirs(root) {
		candidate := filepath.Join(dir, DefaultManifestName)
		if _, err := os.Stat(candidate); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat manifest: %w", err)
		}
		doc, err := config.Load(candidate)
		if err != nil {
			return nil, err
		}
		return &ManifestDocument{Manifest: doc, Source: doc.Path}, nil
	}
	return &ManifestDocument{Manifest: config.Default(root), Source: BuiltinSource}, nil
}

func candidateDirs(root string) []string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if len(dirs) == 0 || filepath.Clean(dirs[0]) != filepath.Clean(root) {
		dirs = append(dirs, root)
	}
	return dirs
}
