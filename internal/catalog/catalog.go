// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog reads sources.yaml, the attribution list that sits at the
// root of the sources tree, and downloads the documents it names.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/waycore/rag-knowledge/pkg/types"
)

// FileName is the catalog file looked up at the sources root.
const FileName = "sources.yaml"

// Source attributes one document under the sources root.
type Source struct {
	// File is the path relative to the sources root, slash separated,
	// e.g. "survival/fm-21-76.pdf".
	File        string `yaml:"file"`
	URL         string `yaml:"url,omitempty"`
	License     string `yaml:"license,omitempty"`
	Title       string `yaml:"title,omitempty"`
	Subcategory string `yaml:"subcategory,omitempty"`
	SHA256      string `yaml:"sha256,omitempty"`
}

// Catalog is the parsed sources.yaml.
type Catalog struct {
	Sources []Source `yaml:"sources"`

	byFile map[string]int
}

// Load reads root/sources.yaml. A missing catalog is not an error; the
// result is an empty catalog.
func Load(root string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return &Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML and validates every item.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	c.byFile = make(map[string]int, len(c.Sources))
	for i, s := range c.Sources {
		key, err := normalize(s.File)
		if err != nil {
			return nil, fmt.Errorf("%s item %d: %w", FileName, i+1, err)
		}
		if _, dup := c.byFile[key]; dup {
			return nil, fmt.Errorf("%s item %d: duplicate file %q", FileName, i+1, s.File)
		}
		c.Sources[i].File = key
		c.byFile[key] = i
	}
	return &c, nil
}

// Lookup returns the catalog item for rel, a path relative to the sources
// root in either slash or OS separator form.
func (c *Catalog) Lookup(rel string) (Source, bool) {
	if c == nil || c.byFile == nil {
		return Source{}, false
	}
	key, err := normalize(filepath.ToSlash(rel))
	if err != nil {
		return Source{}, false
	}
	i, ok := c.byFile[key]
	if !ok {
		return Source{}, false
	}
	return c.Sources[i], true
}

// LicenseFor returns the catalog license for rel, or public_domain.
func (c *Catalog) LicenseFor(rel string) string {
	if s, ok := c.Lookup(rel); ok && s.License != "" {
		return s.License
	}
	return types.LicensePublicDomain
}

func normalize(file string) (string, error) {
	if file == "" {
		return "", errors.New("file is required")
	}
	clean := path.Clean(strings.TrimPrefix(file, "./"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("file %q escapes the sources root", file)
	}
	return clean, nil
}
