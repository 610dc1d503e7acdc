package flow

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Flavors offered by the bakery, in menu order.
var Flavors = []string{
	"vanilla bean", "carrot", "lemon", "coconut",
	"marble", "chocolate", "strawberry", "cookies and cream",
	"red velvet", "banana bread", "caribbean fruit/ rum",
	"butter pecan", "white chocolate sponge", "pineapple sponge",
}

// LayerSizes maps a layer count to the cake sizes that can be baked with it.
var LayerSizes = map[int][]string{
	1: {"6", "8", "9", "10", "12", "quarter sheet", "half sheet"},
	2: {"6", "8", "9", "10", "12", "quarter sheet", "half sheet"},
	3: {"6", "8"},
}

// Tier bounds (inclusive).
const (
	MinTiers = 1
	MaxTiers = 5
)

// MinTextAnswerLength is the minimum length for free-text answers such as color and theme.
const MinTextAnswerLength = 2

var (
	yesAnswers = map[string]bool{"yes": true, "y": true}
	noAnswers  = map[string]bool{"no": true, "n": true}
)

// ValidLayers returns the supported layer counts in ascending order.
func ValidLayers() []int {
	layers := make([]int, 0, len(LayerSizes))
	for n := range LayerSizes {
		layers = append(layers, n)
	}
	sort.Ints(layers)
	return layers
}

// SizesForLayers returns the sizes available for the given layer count.
func SizesForLayers(layers int) []string {
	return LayerSizes[layers]
}

// FlavorMenu renders the flavors for display, e.g. "Vanilla Bean, Carrot, ...".
func FlavorMenu() string {
	titled := make([]string, len(Flavors))
	for i, f := range Flavors {
		titled[i] = titleCase(f)
	}
	return strings.Join(titled, ", ")
}

// titleCase builds a fresh Caser per call; Casers carry state and must not be
// shared between goroutines.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// LayerMenu renders the supported layer counts, e.g. "1, 2, 3".
func LayerMenu() string {
	layers := ValidLayers()
	parts := make([]string, len(layers))
	for i, n := range layers {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

// NormalizeInput trims, lowercases and collapses inner whitespace.
func NormalizeInput(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeYesNo resolves any accepted surface form to exactly "yes" or "no".
// ok is false when the input is neither.
func NormalizeYesNo(s string) (answer string, ok bool) {
	n := NormalizeInput(s)
	switch {
	case yesAnswers[n]:
		return "yes", true
	case noAnswers[n]:
		return "no", true
	default:
		return "", false
	}
}

func isFlavor(normalized string) bool {
	for _, f := range Flavors {
		if f == normalized {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
