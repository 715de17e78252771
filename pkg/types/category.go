// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Known source categories. Each is a directory under the sources root.
const (
	CategorySurvival   = "survival"
	CategoryNavigation = "navigation"
	CategoryFirstAid   = "first_aid"
	CategoryPlants     = "plants"
	CategoryKnots      = "knots"
	CategoryWeather    = "weather"
	CategoryComms      = "comms"
	CategoryEquipment  = "equipment"
)

// categorySafety holds the default safety level per category.
var categorySafety = map[string]SafetyLevel{
	CategorySurvival:   SafetyCaution,
	CategoryNavigation: SafetySafe,
	CategoryFirstAid:   SafetyWarning,
	CategoryPlants:     SafetyDanger,
	CategoryKnots:      SafetySafe,
	CategoryWeather:    SafetySafe,
	CategoryComms:      SafetySafe,
	CategoryEquipment:  SafetyCaution,
}

// Safety notes attached to every entry of the matching category.
const (
	PlantSafetyNote = "WARNING: Never consume plants based solely on this information. " +
		"Always verify with multiple authoritative sources."
	FirstAidSafetyNote = "This information is for educational purposes. " +
		"Seek professional medical help when possible."
)

// PlantSafetyWarning is the long disclaimer appended to plant database entries.
const PlantSafetyWarning = `SAFETY WARNING: Never consume any plant based solely on this information.
Always verify identification with multiple authoritative sources.
Many plants have toxic look-alikes. When in doubt, do NOT eat it.
Consult local experts and field guides specific to your region.`

// CategorySafety returns the default safety level for category. Unknown
// categories are treated as safe.
func CategorySafety(category string) SafetyLevel {
	if l, ok := categorySafety[category]; ok {
		return l
	}
	return SafetySafe
}

// CategoryNotes returns the safety notes applied to every entry of
// category, or "" when the category carries none.
func CategoryNotes(category string) string {
	switch category {
	case CategoryPlants:
		return PlantSafetyNote
	case CategoryFirstAid:
		return FirstAidSafetyNote
	}
	return ""
}
