// Package flow implements the cake order conversation: the step table, answer
// validation, the summary and the engine that moves a customer through it.
package flow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// PromptFunc renders a step's prompt from the answers collected so far.
// Prompts are resolved on every call so options that depend on earlier
// answers (sizes per layer count, the confirmation summary) stay current.
type PromptFunc func(data map[models.DataKey]string) string

// Step describes one position in the flow.
type Step struct {
	Prompt  PromptFunc
	DataKey models.DataKey            // empty for navigational steps
	Next    models.StepType           // unconditional next step, and fallback for NextIf
	NextIf  map[string]models.StepType // keyed by normalized answer ("yes"/"no", menu choice)
}

// Menu choices accepted at StepMainMenu.
const (
	MenuChoiceNewOrder   = "1"
	MenuChoiceViewOrders = "2"
)

// Static prompt text.
const (
	PromptWelcome = "Welcome to the Cake Bot! 🎂 I can help you place a custom cake order. " +
		"We will walk through the required details step-by-step.\n\n" +
		"Type *Restart* at any time to begin the conversation over."
	PromptMainMenu = "What would you like to do?\n" +
		"1. 🎂 Place a new cake order\n" +
		"2. 📅 View my upcoming orders\n" +
		"(Reply with '1' or '2')"
	PromptDate          = "What is the date of the event? (Please reply with DD/MM/YYYY)"
	PromptCustomPicture = "Do you have a picture of the custom cake you would like? (Yes/No)"
	PromptImageUpload   = "Please send the picture of the cake you have in mind. " +
		"If you would rather not, type *Skip*."
	PromptTiers        = "How many tiers (levels) will the cake have? (A number from 1 to 5)"
	PromptColor        = "What is the primary color of the cake?"
	PromptTheme        = "What is the theme or general description (e.g., Star Wars, Floral, Simple)?"
	PromptIndoors      = "Will the cake be displayed indoors? (Yes/No)"
	PromptAC           = "Does the venue have air conditioning? (Critical for stability - Yes/No)"
	PromptConfirmation = "Please review the summary above. Is this information correct and ready to save? (Yes/No)"
)

func static(text string) PromptFunc {
	return func(map[models.DataKey]string) string { return text }
}

func flavorPrompt(map[models.DataKey]string) string {
	return fmt.Sprintf("What flavor would you like? We offer: %s.", FlavorMenu())
}

func layersPrompt(map[models.DataKey]string) string {
	return fmt.Sprintf("How many layers would you like? We support: %s layers.", LayerMenu())
}

func sizePrompt(data map[models.DataKey]string) string {
	layers, err := strconv.Atoi(strings.TrimSpace(data[models.DataKeyNumLayers]))
	if err != nil || len(SizesForLayers(layers)) == 0 {
		return "What size would you like? (Inches, or quarter sheet / half sheet)"
	}
	return fmt.Sprintf("What size would you like for your %d-layer cake? Available sizes (inches or sheet): %s.",
		layers, strings.Join(SizesForLayers(layers), ", "))
}

func confirmationPrompt(data map[models.DataKey]string) string {
	return RenderSummary(data) + "\n\n" + PromptConfirmation
}

// steps is the cake order flow table. It must not be mutated after init.
var steps = map[models.StepType]Step{
	models.StepStart: {
		Prompt: static(PromptWelcome),
		Next:   models.StepMainMenu,
	},
	models.StepMainMenu: {
		Prompt: static(PromptMainMenu),
		Next:   models.StepMainMenu,
		NextIf: map[string]models.StepType{
			MenuChoiceNewOrder:   models.StepAskDate,
			MenuChoiceViewOrders: models.StepMainMenu,
		},
	},
	models.StepAskDate: {
		Prompt:  static(PromptDate),
		DataKey: models.DataKeyEventDate,
		Next:    models.StepAskCustomPicture,
	},
	models.StepAskCustomPicture: {
		Prompt:  static(PromptCustomPicture),
		DataKey: models.DataKeyHasPicture,
		Next:    models.StepAskFlavor,
		NextIf: map[string]models.StepType{
			"yes": models.StepAskImageUpload,
			"no":  models.StepAskFlavor,
		},
	},
	models.StepAskImageUpload: {
		Prompt:  static(PromptImageUpload),
		DataKey: models.DataKeyImageURL,
		Next:    models.StepAskFlavor,
	},
	models.StepAskFlavor: {
		Prompt:  flavorPrompt,
		DataKey: models.DataKeyCakeFlavor,
		Next:    models.StepAskLayers,
	},
	// Layers come before size: size options depend on the layer count.
	models.StepAskLayers: {
		Prompt:  layersPrompt,
		DataKey: models.DataKeyNumLayers,
		Next:    models.StepAskSize,
	},
	models.StepAskSize: {
		Prompt:  sizePrompt,
		DataKey: models.DataKeyCakeSize,
		Next:    models.StepAskTiers,
	},
	models.StepAskTiers: {
		Prompt:  static(PromptTiers),
		DataKey: models.DataKeyNumTiers,
		Next:    models.StepAskColor,
	},
	models.StepAskColor: {
		Prompt:  static(PromptColor),
		DataKey: models.DataKeyCakeColor,
		Next:    models.StepAskTheme,
	},
	models.StepAskTheme: {
		Prompt:  static(PromptTheme),
		DataKey: models.DataKeyCakeTheme,
		Next:    models.StepAskIndoors,
	},
	models.StepAskIndoors: {
		Prompt:  static(PromptIndoors),
		DataKey: models.DataKeyVenueIndoors,
		Next:    models.StepAskAC,
	},
	models.StepAskAC: {
		Prompt:  static(PromptAC),
		DataKey: models.DataKeyVenueAC,
		Next:    models.StepAskConfirmation,
	},
	models.StepAskConfirmation: {
		Prompt: confirmationPrompt,
		Next:   models.StepAskConfirmation,
		NextIf: map[string]models.StepType{
			"yes": models.StepComplete,
			"no":  models.StepMainMenu,
		},
	},
}

// LookupStep returns the definition for a step.
func LookupStep(step models.StepType) (Step, bool) {
	s, ok := steps[step]
	return s, ok
}

// NextStep resolves the transition for an answer. Branch keys are matched on
// the normalized answer (yes/no forms collapse to "yes"/"no"); an unmatched
// key falls back to the static Next.
func (s Step) NextStep(answer string) models.StepType {
	if len(s.NextIf) == 0 {
		return s.Next
	}
	key := NormalizeInput(answer)
	if yn, ok := NormalizeYesNo(answer); ok {
		key = yn
	}
	if next, ok := s.NextIf[key]; ok {
		return next
	}
	return s.Next
}

// Render returns the step's prompt for the given answers.
func (s Step) Render(data map[models.DataKey]string) string {
	if s.Prompt == nil {
		return ""
	}
	return s.Prompt(data)
}
