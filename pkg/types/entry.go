// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// SafetyLevel is the editorial risk label attached to a knowledge entry. It
// tells consumers how much verification the content needs before field use.
type SafetyLevel string

const (
	SafetySafe    SafetyLevel = "safe"
	SafetyCaution SafetyLevel = "caution"
	SafetyWarning SafetyLevel = "warning"
	SafetyDanger  SafetyLevel = "danger"
	SafetyLethal  SafetyLevel = "lethal"
)

// SafetyLevels lists every level from least to most severe.
var SafetyLevels = []SafetyLevel{SafetySafe, SafetyCaution, SafetyWarning, SafetyDanger, SafetyLethal}

// Rank returns the severity order of the level (0 for safe, 4 for lethal),
// or -1 for an unknown value.
func (l SafetyLevel) Rank() int {
	for i, s := range SafetyLevels {
		if s == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is one of the five known levels.
func (l SafetyLevel) Valid() bool { return l.Rank() >= 0 }

// ParseSafetyLevel converts s to a SafetyLevel, rejecting unknown values.
func ParseSafetyLevel(s string) (SafetyLevel, error) {
	l := SafetyLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown safety level %q (want one of safe, caution, warning, danger, lethal)", s)
	}
	return l, nil
}

// Default license recorded for sources without a catalog override.
const LicensePublicDomain = "public_domain"

// Entry is a single searchable record in the knowledge base. It maps one to
// one onto a row of the entries table.
type Entry struct {
	// RowID is the SQLite rowid assigned at insert. It is the label used in
	// the vector index. Zero before insert.
	RowID int64 `json:"rowid,omitempty" yaml:"rowid,omitempty"`

	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Content     string      `json:"content" yaml:"content"`
	Category    string      `json:"category" yaml:"category"`
	Subcategory string      `json:"subcategory,omitempty" yaml:"subcategory,omitempty"`
	SafetyLevel SafetyLevel `json:"safety_level" yaml:"safety_level"`
	SafetyNotes string      `json:"safety_notes,omitempty" yaml:"safety_notes,omitempty"`

	// Provenance.
	SourceFile string `json:"source_file,omitempty" yaml:"source_file,omitempty"`
	SourcePage int    `json:"source_page,omitempty" yaml:"source_page,omitempty"`
	SourceURL  string `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	License    string `json:"license,omitempty" yaml:"license,omitempty"`

	Tags      []string  `json:"tags" yaml:"tags"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Validate checks the fields the schema declares NOT NULL and the safety
// level domain.
func (e *Entry) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("entry has no id")
	case e.Title == "":
		return fmt.Errorf("entry %s has no title", e.ID)
	case e.Content == "":
		return fmt.Errorf("entry %s has no content", e.ID)
	case e.Category == "":
		return fmt.Errorf("entry %s has no category", e.ID)
	}
	if !e.SafetyLevel.Valid() {
		return fmt.Errorf("entry %s: unknown safety level %q", e.ID, e.SafetyLevel)
	}
	return nil
}
