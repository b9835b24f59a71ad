package recipes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
)

// ErrInvalid wraps every validation failure. Callers only need errors.Is(err, ErrInvalid);
// the wrapped text names the offending field for logs.
var ErrInvalid = errors.New("invalid model output")

// Schema limits.
const (
	MaxIngredients     = 30
	MaxRecipes         = 4
	MaxRecipeLines     = 20
	MaxRecipeSteps     = 15
	MaxCookTimeMinutes = 120
	maxIDLen           = 100
	maxNameLen         = 100
	maxCategoryLen     = 50
	maxRecipeNameLen   = 200
	maxSummaryLen      = 500
	maxStepLen         = 500
	maxSubstitutionLen = 200
	maxMakeItFasterLen = 300
)

// Wire shapes use pointers so an absent or null field is distinguishable from a zero value.
type wireResult struct {
	Ingredients *[]wireIngredient `json:"ingredients"`
	Recipes     *[]wireRecipe     `json:"recipes"`
}

type wireIngredient struct {
	ID         *string  `json:"id"`
	Name       *string  `json:"name"`
	Category   *string  `json:"category"`
	Confidence *float64 `json:"confidence"`
}

type wireRecipe struct {
	ID              *string                 `json:"id"`
	Name            *string                 `json:"name"`
	Summary         *string                 `json:"summary"`
	CookTimeMinutes *float64                `json:"cookTimeMinutes"`
	Difficulty      *string                 `json:"difficulty"`
	Ingredients     *[]wireRecipeIngredient `json:"ingredients"`
	Steps           *[]string               `json:"steps"`
	MakeItFasterTip *string                 `json:"makeItFasterTip"`
}

type wireRecipeIngredient struct {
	ID           *string `json:"id"`
	Name         *string `json:"name"`
	IsDetected   *bool   `json:"isDetected"`
	Substitution *string `json:"substitution"`
}

// Parse decodes raw model output and validates it against the scan result schema.
// Unknown fields are ignored. Missing or empty ids are replaced with fresh UUIDs.
// Every failure wraps ErrInvalid.
func Parse(raw []byte) (*ScanResult, error) {
	var w wireResult
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	if w.Ingredients == nil {
		return nil, invalid("ingredients", "required")
	}
	if w.Recipes == nil {
		return nil, invalid("recipes", "required")
	}
	if n := len(*w.Ingredients); n > MaxIngredients {
		return nil, invalid("ingredients", fmt.Sprintf("%d items, max %d", n, MaxIngredients))
	}
	if n := len(*w.Recipes); n > MaxRecipes {
		return nil, invalid("recipes", fmt.Sprintf("%d items, max %d", n, MaxRecipes))
	}

	out := &ScanResult{
		Ingredients: make([]Ingredient, 0, len(*w.Ingredients)),
		Recipes:     make([]Recipe, 0, len(*w.Recipes)),
	}
	for i, wi := range *w.Ingredients {
		ing, err := parseIngredient(fmt.Sprintf("ingredients[%d]", i), wi)
		if err != nil {
			return nil, err
		}
		out.Ingredients = append(out.Ingredients, ing)
	}
	for i, wr := range *w.Recipes {
		rec, err := parseRecipe(fmt.Sprintf("recipes[%d]", i), wr)
		if err != nil {
			return nil, err
		}
		out.Recipes = append(out.Recipes, rec)
	}
	return out, nil
}

func parseIngredient(path string, w wireIngredient) (Ingredient, error) {
	name, err := requiredString(path+".name", w.Name, maxNameLen)
	if err != nil {
		return Ingredient{}, err
	}
	category, err := requiredString(path+".category", w.Category, maxCategoryLen)
	if err != nil {
		return Ingredient{}, err
	}
	if w.Confidence == nil {
		return Ingredient{}, invalid(path+".confidence", "required")
	}
	if c := *w.Confidence; c < 0 || c > 1 {
		return Ingredient{}, invalid(path+".confidence", fmt.Sprintf("%v outside [0,1]", c))
	}
	return Ingredient{
		ID:         idOrNew(w.ID),
		Name:       name,
		Category:   category,
		Confidence: *w.Confidence,
	}, nil
}

func parseRecipe(path string, w wireRecipe) (Recipe, error) {
	name, err := requiredString(path+".name", w.Name, maxRecipeNameLen)
	if err != nil {
		return Recipe{}, err
	}
	summary, err := requiredString(path+".summary", w.Summary, maxSummaryLen)
	if err != nil {
		return Recipe{}, err
	}

	if w.CookTimeMinutes == nil {
		return Recipe{}, invalid(path+".cookTimeMinutes", "required")
	}
	ct := *w.CookTimeMinutes
	if ct != math.Trunc(ct) || ct < 1 || ct > MaxCookTimeMinutes {
		return Recipe{}, invalid(path+".cookTimeMinutes", fmt.Sprintf("%v is not an integer in [1,%d]", ct, MaxCookTimeMinutes))
	}

	if w.Difficulty == nil {
		return Recipe{}, invalid(path+".difficulty", "required")
	}
	if d := *w.Difficulty; d != DifficultyEasy && d != DifficultyMedium {
		return Recipe{}, invalid(path+".difficulty", fmt.Sprintf("%q not one of easy, medium", d))
	}

	if w.Ingredients == nil {
		return Recipe{}, invalid(path+".ingredients", "required")
	}
	if n := len(*w.Ingredients); n < 1 || n > MaxRecipeLines {
		return Recipe{}, invalid(path+".ingredients", fmt.Sprintf("%d items, want 1-%d", n, MaxRecipeLines))
	}
	lines := make([]RecipeIngredient, 0, len(*w.Ingredients))
	for i, wl := range *w.Ingredients {
		line, err := parseRecipeIngredient(fmt.Sprintf("%s.ingredients[%d]", path, i), wl)
		if err != nil {
			return Recipe{}, err
		}
		lines = append(lines, line)
	}

	if w.Steps == nil {
		return Recipe{}, invalid(path+".steps", "required")
	}
	if n := len(*w.Steps); n < 1 || n > MaxRecipeSteps {
		return Recipe{}, invalid(path+".steps", fmt.Sprintf("%d items, want 1-%d", n, MaxRecipeSteps))
	}
	steps := make([]string, 0, len(*w.Steps))
	for i, s := range *w.Steps {
		step := s
		if _, err := requiredString(fmt.Sprintf("%s.steps[%d]", path, i), &step, maxStepLen); err != nil {
			return Recipe{}, err
		}
		steps = append(steps, step)
	}

	if err := optionalString(path+".makeItFasterTip", w.MakeItFasterTip, maxMakeItFasterLen); err != nil {
		return Recipe{}, err
	}

	return Recipe{
		ID:              idOrNew(w.ID),
		Name:            name,
		Summary:         summary,
		CookTimeMinutes: int(ct),
		Difficulty:      *w.Difficulty,
		Ingredients:     lines,
		Steps:           steps,
		MakeItFasterTip: w.MakeItFasterTip,
	}, nil
}

func parseRecipeIngredient(path string, w wireRecipeIngredient) (RecipeIngredient, error) {
	name, err := requiredString(path+".name", w.Name, maxNameLen)
	if err != nil {
		return RecipeIngredient{}, err
	}
	if w.IsDetected == nil {
		return RecipeIngredient{}, invalid(path+".isDetected", "required")
	}
	if err := optionalString(path+".substitution", w.Substitution, maxSubstitutionLen); err != nil {
		return RecipeIngredient{}, err
	}
	return RecipeIngredient{
		ID:           idOrNew(w.ID),
		Name:         name,
		IsDetected:   *w.IsDetected,
		Substitution: w.Substitution,
	}, nil
}

// requiredString checks s is present with 1..max characters (runes, not bytes).
func requiredString(path string, s *string, limit int) (string, error) {
	if s == nil {
		return "", invalid(path, "required")
	}
	n := utf8.RuneCountInString(*s)
	if n == 0 {
		return "", invalid(path, "empty")
	}
	if n > limit {
		return "", invalid(path, fmt.Sprintf("%d characters, max %d", n, limit))
	}
	return *s, nil
}

// optionalString allows nil or empty; only the length ceiling applies.
func optionalString(path string, s *string, limit int) error {
	if s == nil {
		return nil
	}
	if n := utf8.RuneCountInString(*s); n > limit {
		return invalid(path, fmt.Sprintf("%d characters, max %d", n, limit))
	}
	return nil
}

// idOrNew keeps a usable model-supplied id, else generates one.
func idOrNew(id *string) string {
	if id != nil && *id != "" && utf8.RuneCountInString(*id) <= maxIDLen {
		return *id
	}
	return uuid.Must(uuid.NewV7()).String()
}

func invalid(path, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, path, reason)
}
