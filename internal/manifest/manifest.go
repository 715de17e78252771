// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package manifest describes a built index release: versions, counts and
// the size and sha256 of every artifact.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/waycore/rag-knowledge/internal/hnsw"
	"github.com/waycore/rag-knowledge/internal/httputil"
	"github.com/waycore/rag-knowledge/internal/knowledge"
	"github.com/waycore/rag-knowledge/pkg/types"
)

// DefaultVersion is used when no release version is given.
const DefaultVersion = "1.0.0"

// Options override what Generate would otherwise read from the database
// metadata table.
type Options struct {
	Version        string
	SourceHash     string
	EmbeddingModel string
	Dimensions     int

	// Now stamps build_timestamp when the database carries none.
	Now func() time.Time
}

// Artifacts lists the files a manifest covers, in the order they are
// downloaded.
var Artifacts = []string{types.DatabaseFile, types.VectorsFile}

// Generate builds the manifest for the artifacts in dir. Both knowledge.db
// and vectors.idx must exist.
func Generate(ctx context.Context, dir string, opts Options) (types.Manifest, error) {
	for _, name := range Artifacts {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return types.Manifest{}, fmt.Errorf("%s not found in %s: %w", name, dir, err)
		}
	}

	store, err := knowledge.OpenReadOnly(filepath.Join(dir, types.DatabaseFile))
	if err != nil {
		return types.Manifest{}, err
	}
	defer store.Close()

	m := types.Manifest{
		Version:        opts.Version,
		SourceHash:     opts.SourceHash,
		EmbeddingModel: opts.EmbeddingModel,
		SchemaVersion:  types.SchemaVersion,
		IndexSpace:     hnsw.SpaceCosine,
		Files:          make(map[string]types.FileInfo, len(Artifacts)),
	}
	if m.Version == "" {
		m.Version = DefaultVersion
	}

	meta := func(key string) string {
		if err != nil {
			return ""
		}
		var v string
		v, err = store.Meta(ctx, key)
		return v
	}
	if m.SourceHash == "" {
		m.SourceHash = meta(knowledge.MetaSourceHash)
	}
	if m.EmbeddingModel == "" {
		m.EmbeddingModel = meta(knowledge.MetaEmbeddingModel)
	}
	m.EmbeddingDimensions = opts.Dimensions
	if m.EmbeddingDimensions == 0 {
		if s := meta(knowledge.MetaEmbeddingDim); s != "" {
			m.EmbeddingDimensions, _ = strconv.Atoi(s)
		}
	}
	m.BuildTimestamp = meta(knowledge.MetaBuildTime)
	if err != nil {
		return types.Manifest{}, err
	}

	if m.SourceHash == "" {
		m.SourceHash = "unknown"
	}
	if m.EmbeddingModel == "" {
		m.EmbeddingModel = types.DefaultEmbeddingModel
	}
	if m.EmbeddingDimensions == 0 {
		m.EmbeddingDimensions = types.DefaultEmbeddingDim
	}
	if m.BuildTimestamp == "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		m.BuildTimestamp = now().UTC().Format(time.RFC3339)
	}

	if m.TotalEntries, err = store.Count(ctx); err != nil {
		return types.Manifest{}, err
	}
	if m.Categories, err = store.CategoryCounts(ctx); err != nil {
		return types.Manifest{}, err
	}

	for _, name := range Artifacts {
		info, err := Describe(filepath.Join(dir, name))
		if err != nil {
			return types.Manifest{}, err
		}
		m.Files[name] = info
	}
	return m, nil
}

// Describe returns the size and sha256 of the file at path.
func Describe(path string) (types.FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return types.FileInfo{}, err
	}
	sum, err := httputil.FileSHA256(path)
	if err != nil {
		return types.FileInfo{}, err
	}
	return types.FileInfo{SizeBytes: st.Size(), SHA256: sum}, nil
}

// Write stores m as indented JSON at path, creating parent directories.
func Write(path string, m types.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Load reads the manifest at path.
func Load(path string) (types.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}
	return Decode(data)
}

// Decode parses manifest JSON.
func Decode(data []byte) (types.Manifest, error) {
	var m types.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return types.Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}
