// Package recipes defines the scan result returned to clients and the validator that
// turns untrusted model output into one.
package recipes

// Difficulty values a recipe may carry.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
)

// ScanResult is the validated payload served to clients. Never persisted.
// Slices are always non-nil so they encode as [] rather than null.
type ScanResult struct {
	Ingredients []Ingredient `json:"ingredients"`
	Recipes     []Recipe     `json:"recipes"`
}

// Ingredient is one food item detected in the image.
type Ingredient struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Recipe is one suggested dish.
type Recipe struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Summary         string             `json:"summary"`
	CookTimeMinutes int                `json:"cookTimeMinutes"`
	Difficulty      string             `json:"difficulty"`
	Ingredients     []RecipeIngredient `json:"ingredients"`
	Steps           []string           `json:"steps"`
	MakeItFasterTip *string            `json:"makeItFasterTip"`
}

// RecipeIngredient is an ingredient line of a recipe.
// Substitution is conventionally set only when IsDetected is false.
type RecipeIngredient struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	IsDetected   bool    `json:"isDetected"`
	Substitution *string `json:"substitution"`
}
