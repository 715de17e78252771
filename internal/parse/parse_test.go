// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package parse

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waycore/rag-knowledge/internal/pdftext"
	"github.com/waycore/rag-knowledge/pkg/types"
)

type fakeExtractor struct {
	pages []string
}

func (f fakeExtractor) Pages(context.Context, string) ([]string, error) { return f.pages, nil }

func (f fakeExtractor) Metadata(context.Context, string) (pdftext.Metadata, error) {
	return pdftext.Metadata{PageCount: len(f.pages)}, nil
}

func writeSource(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestPageAt(t *testing.T) {
	starts := []int{0, 120, 120, 400}
	tests := []struct {
		offset int
		want   int
	}{
		{0, 1},
		{119, 1},
		{120, 3},
		{399, 3},
		{400, 4},
		{9000, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pageAt(starts, tt.offset), "offset %d", tt.offset)
	}
}

func TestParsePDF(t *testing.T) {
	pages := []string{
		"Boiling Water Safely\n" + strings.Repeat("Bring water to a rolling boil. ", 10),
		"Chemical Treatment\n" + strings.Repeat("Add two drops of bleach per liter. ", 9),
	}
	p := &Parser{PDF: fakeExtractor{pages: pages}}
	path := writeSource(t, "water-guide.pdf", "%PDF")

	recs, err := p.File(context.Background(), path, types.CategorySurvival)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "Boiling Water Safely", recs[0].Title)
	assert.Equal(t, 1, recs[0].Page)
	assert.Equal(t, 2, recs[1].Page)
	assert.Contains(t, recs[1].Content, "Chemical Treatment")
	for _, r := range recs {
		assert.Equal(t, types.SafetyCaution, r.SafetyLevel)
		assert.Empty(t, r.SafetyNotes)
		assert.Equal(t, []string{"survival", "water-guide"}, r.Tags)
	}
}

func TestParsePDFCategoryNotes(t *testing.T) {
	p := &Parser{PDF: fakeExtractor{pages: []string{strings.Repeat("Apply direct pressure to the wound. ", 5)}}}
	path := writeSource(t, "bleeding.pdf", "%PDF")

	recs, err := p.File(context.Background(), path, types.CategoryFirstAid)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.SafetyWarning, recs[0].SafetyLevel)
	assert.Equal(t, types.FirstAidSafetyNote, recs[0].SafetyNotes)
}

func TestParseJSONNested(t *testing.T) {
	path := writeSource(t, "fire.json", `{"source": "field manual", "sections": [
		{"title": "Fire Starting", "method": "Use a ferro rod to throw sparks into a tinder bundle.",
		 "materials": ["tinder", "kindling", "fuel wood"], "time_minutes": 5, "difficulty": "easy"},
		{"title": "Tiny", "note": "too short"}
	]}`)

	recs, err := (&Parser{}).File(context.Background(), path, types.CategorySurvival)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, "Fire Starting", r.Title)
	assert.Equal(t, "**Method**: Use a ferro rod to throw sparks into a tinder bundle.\n\n"+
		"**Materials**: tinder, kindling, fuel wood", r.Content)
	assert.Equal(t, "easy", r.Metadata["difficulty"])
	assert.Equal(t, json.Number("5"), r.Metadata["time_minutes"])
	assert.Equal(t, []string{"survival", "fire"}, r.Tags)
	assert.Zero(t, r.Page)
}

func TestParseJSONTopLevelList(t *testing.T) {
	path := writeSource(t, "knots.json", `[
		{"description": "A stopper knot tied at the end of a rope to prevent unravelling.", "subcategory": "stoppers"},
		"not an object"
	]`)

	recs, err := (&Parser{}).File(context.Background(), path, types.CategoryKnots)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, untitled, recs[0].Title)
	assert.Equal(t, "stoppers", recs[0].Subcategory)
	assert.Equal(t, types.SafetySafe, recs[0].SafetyLevel)
}

func TestParseJSONObjectTitle(t *testing.T) {
	path := writeSource(t, "shelter.json", `{"skills": [
		{"name": {"en": "Lean-to"}, "title": "Lean-to shelter",
		 "description": "Prop a ridge pole against a tree and lay branches along one side."},
		{"name": {"en": "Debris hut"},
		 "description": "Pile leaves and dry debris over a low frame until the walls are an arm deep."}
	]}`)

	recs, err := (&Parser{}).File(context.Background(), path, types.CategorySurvival)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Lean-to shelter", recs[0].Title)
	assert.Equal(t, untitled, recs[1].Title)
	for _, r := range recs {
		assert.NotContains(t, r.Title, "&{")
	}
}

func TestScalarText(t *testing.T) {
	obj := newObject()
	obj.set("en", "Lean-to")
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"string", "bowline", "bowline", true},
		{"number", json.Number("4.5"), "4.5", true},
		{"bool", true, "true", true},
		{"string list", []any{"leaves", "roots"}, "leaves, roots", true},
		{"mixed list", []any{"leaves", json.Number("2")}, "", false},
		{"object", obj, "", false},
		{"null", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := scalarText(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONInvalid(t *testing.T) {
	path := writeSource(t, "broken.json", `{"title": `)
	_, err := (&Parser{}).File(context.Background(), path, types.CategorySurvival)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestParseCSV(t *testing.T) {
	path := writeSource(t, "knots.csv", "name,instructions,region\n"+
		"Square Knot,Right over left then left over right to form a flat binding knot.,global\n"+
		"Granny,short,global\n")

	recs, err := (&Parser{}).File(context.Background(), path, types.CategoryKnots)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Square Knot", recs[0].Title)
	assert.Equal(t, "**Instructions**: Right over left then left over right to form a flat binding knot.", recs[0].Content)
	assert.Equal(t, "global", recs[0].Metadata["region"])
}

func TestPlantSafety(t *testing.T) {
	tests := []struct {
		rating int
		want   types.SafetyLevel
	}{
		{5, types.SafetyCaution},
		{4, types.SafetyCaution},
		{3, types.SafetyWarning},
		{2, types.SafetyDanger},
		{1, types.SafetyLethal},
		{0, types.SafetyDanger},
		{7, types.SafetyDanger},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PlantSafety(tt.rating), "rating %d", tt.rating)
	}
}

func TestParsePlantJSON(t *testing.T) {
	path := writeSource(t, "pfaf.json", `{"plants": [
		{"common_name": "Dandelion", "scientific_name": "Taraxacum officinale", "family": "Asteraceae",
		 "description": "Rosette of toothed leaves with a bright yellow composite flower head.",
		 "edibility_rating": 5, "edible_parts": ["leaves", "roots", "flowers"], "height_cm": 30},
		{"common_name": "Water Hemlock", "scientific_name": "Cicuta maculata",
		 "description": "Tall umbellifer with streaked purple stems found near water.", "edibility_rating": "1"},
		{"common_name": "Stub", "description": "short"}
	]}`)

	recs, err := (&Parser{}).File(context.Background(), path, types.CategoryPlants)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	d := recs[0]
	assert.Equal(t, "Dandelion", d.Title)
	assert.Equal(t, types.SafetyCaution, d.SafetyLevel)
	assert.True(t, strings.HasPrefix(d.Content, "# Dandelion\n\n**Scientific Name**: Taraxacum officinale\n\n**Family**: Asteraceae"))
	assert.Contains(t, d.Content, "**Edibility**: leaves, roots, flowers")
	assert.True(t, strings.HasSuffix(d.Content, "---\n\n"+types.PlantSafetyWarning))
	assert.Equal(t, types.PlantSafetyWarning, d.SafetyNotes)
	assert.Equal(t, map[string]any{"height_cm": json.Number("30")}, d.Metadata)

	assert.Equal(t, "Water Hemlock", recs[1].Title)
	assert.Equal(t, types.SafetyLethal, recs[1].SafetyLevel)
}

func TestParsePlantCSVMissingRating(t *testing.T) {
	path := writeSource(t, "usda.csv", "CommonName,ScientificName,habitat\n"+
		"Cattail,Typha latifolia,Freshwater marshes and pond margins across most of North America\n")

	recs, err := (&Parser{}).File(context.Background(), path, types.CategoryPlants)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Cattail", recs[0].Title)
	assert.Equal(t, types.SafetyDanger, recs[0].SafetyLevel)
}

func TestFileUnsupported(t *testing.T) {
	_, err := (&Parser{}).File(context.Background(), "notes.txt", types.CategorySurvival)
	require.Error(t, err)
	assert.False(t, Supported("notes.txt"))
	assert.True(t, Supported("Guide.PDF"))
}

func TestFieldLabel(t *testing.T) {
	assert.Equal(t, "**Physical Characteristics**", fieldLabel("physical_characteristics"))
	assert.Equal(t, "**Method**", fieldLabel("method"))
}
