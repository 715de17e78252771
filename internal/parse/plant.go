// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package parse

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/waycore/rag-knowledge/pkg/types"
)

const (
	unknownPlant      = "Unknown Plant"
	minPlantDescRunes = 100
)

// Field aliases seen across USDA, PFAF and similar plant databases.
var (
	commonNameKeys = []string{"common_name", "CommonName", "name", "vernacular_name"}
	scientificKeys = []string{"scientific_name", "ScientificName", "latin_name", "binomial"}
	familyKeys     = []string{"family", "Family", "plant_family"}
	edibilityKeys  = []string{"edibility", "edible_parts", "uses_edible"}
	medicinalKeys  = []string{"medicinal_uses", "medicinal", "uses_medicinal"}
	habitatKeys    = []string{"habitat", "native_range", "distribution"}
	describeKeys   = []string{"description", "physical_characteristics", "growth_habit", "leaves", "flowers", "fruit"}

	plantSkipKeys = map[string]bool{
		"common_name": true, "scientific_name": true, "family": true, "description": true,
		"edibility": true, "edibility_rating": true, "medicinal_uses": true, "habitat": true,
	}
)

// PlantSafety maps an edibility rating (1-5) to a safety level. Anything
// outside the known ratings is treated as dangerous.
func PlantSafety(rating int) types.SafetyLevel {
	switch rating {
	case 5, 4:
		return types.SafetyCaution
	case 3:
		return types.SafetyWarning
	case 1:
		return types.SafetyLethal
	}
	return types.SafetyDanger
}

func parsePlantJSON(path string) ([]Record, error) {
	data, err := readJSON(path)
	if err != nil {
		return nil, err
	}

	var items []any
	switch v := data.(type) {
	case []any:
		items = v
	case *object:
		for _, k := range v.keys {
			if list, ok := v.vals[k].([]any); ok {
				items = append(items, list...)
			}
		}
	}

	var recs []Record
	for _, it := range items {
		obj, ok := it.(*object)
		if !ok {
			continue
		}
		if rec, ok := plantRecord(obj, path); ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func parsePlantCSV(path string) ([]Record, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	var recs []Record
	for _, row := range rows {
		if rec, ok := plantRecord(row, path); ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func plantRecord(item *object, path string) (Record, bool) {
	name := unknownPlant
	if v, ok := first(item, commonNameKeys); ok {
		name = v
	}

	var parts []string
	if v, ok := first(item, scientificKeys); ok {
		parts = append(parts, "**Scientific Name**: "+v)
	}
	if v, ok := first(item, familyKeys); ok {
		parts = append(parts, "**Family**: "+v)
	}
	for _, k := range describeKeys {
		if v, ok := item.get(k); ok && truthy(v) {
			if text, ok := scalarText(v); ok {
				parts = append(parts, fieldLabel(k)+": "+text)
			}
		}
	}
	if v, ok := first(item, edibilityKeys); ok {
		parts = append(parts, "**Edibility**: "+v)
	}
	if v, ok := first(item, medicinalKeys); ok {
		parts = append(parts, "**Medicinal Uses**: "+v)
	}
	if v, ok := first(item, habitatKeys); ok {
		parts = append(parts, "**Habitat**: "+v)
	}

	level := types.SafetyDanger
	if v, ok := item.get("edibility_rating"); ok {
		if r, ok := rating(v); ok {
			level = PlantSafety(r)
		}
	}

	desc := strings.Join(parts, "\n\n")
	if utf8.RuneCountInString(desc) < minPlantDescRunes {
		return Record{}, false
	}

	meta := map[string]any{}
	for _, k := range item.keys {
		if plantSkipKeys[strings.ToLower(k)] {
			continue
		}
		switch v := item.vals[k].(type) {
		case string, json.Number, bool:
			meta[k] = v
		}
	}

	return Record{
		Title:       name,
		Content:     plantContent(name, desc),
		SafetyLevel: level,
		SafetyNotes: types.PlantSafetyWarning,
		Tags:        []string{types.CategoryPlants, stem(path)},
		Metadata:    meta,
	}, true
}

// plantContent renders the searchable text for a plant: heading,
// description, and the safety warning after a rule.
func plantContent(name, desc string) string {
	return "# " + name + "\n\n" + desc + "\n\n---\n\n" + types.PlantSafetyWarning
}

// first returns the first set value among keys.
// first returns the text of the first set, text-valued key.
func first(item *object, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := item.get(k); ok && truthy(v) {
			if text, ok := scalarText(v); ok {
				return text, true
			}
		}
	}
	return "", false
}

func rating(v any) (int, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n, true
		}
	}
	return 0, false
}
