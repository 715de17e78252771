// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Artifact file names shared by the build, manifest, verify and fetch stages.
const (
	DatabaseFile = "knowledge.db"
	VectorsFile  = "vectors.idx"
	ManifestFile = "manifest.json"
)

// SchemaVersion is the version of the entries schema written to manifests.
const SchemaVersion = "1.0"

// FileInfo describes one release artifact.
type FileInfo struct {
	SizeBytes int64  `json:"size_bytes" yaml:"size_bytes"`
	SHA256    string `json:"sha256" yaml:"sha256"`
}

// Manifest describes a built index release.
type Manifest struct {
	Version             string              `json:"version" yaml:"version"`
	BuildTimestamp      string              `json:"build_timestamp" yaml:"build_timestamp"`
	SourceHash          string              `json:"source_hash" yaml:"source_hash"`
	EmbeddingModel      string              `json:"embedding_model" yaml:"embedding_model"`
	EmbeddingDimensions int                 `json:"embedding_dimensions" yaml:"embedding_dimensions"`
	TotalEntries        int                 `json:"total_entries" yaml:"total_entries"`
	Categories          map[string]int      `json:"categories" yaml:"categories"`
	Files               map[string]FileInfo `json:"files" yaml:"files"`
	SchemaVersion       string              `json:"schema_version" yaml:"schema_version"`
	IndexSpace          string              `json:"index_space" yaml:"index_space"`
}
