package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// PastDateGrace is how far in the past an event date may be and still be accepted.
const PastDateGrace = 24 * time.Hour

// Validation error messages shown to the customer.
const (
	ErrMsgDateFormat    = "I couldn't understand that date format. Please reply with *DD/MM/YYYY* (e.g., 25/12/2026)."
	ErrMsgDatePast      = "That date is in the past! Please provide a future date (DD/MM/YYYY)."
	ErrMsgYesNo         = "Please reply with a simple *Yes* or *No*."
	ErrMsgLayersNumber  = "Please enter a valid number for layers (e.g., 2)."
	ErrMsgLayersFirst   = "I need to know the number of layers before choosing a size. Please type *Restart* to begin again."
	ErrMsgTiersNumber   = "Please enter a valid number (e.g., 2)."
	ErrMsgTextTooShort  = "Please provide a more descriptive answer (at least 2 characters)."
	ErrMsgEmptyResponse = "Please type a reply to continue."
)

// rule checks one answer. data holds previously collected answers and must not be modified.
type rule func(message string, data map[models.DataKey]string, now time.Time) (bool, string)

var rules = map[models.StepType]rule{
	models.StepAskDate:          validateDate,
	models.StepAskCustomPicture: validateYesNo,
	models.StepAskIndoors:       validateYesNo,
	models.StepAskAC:            validateYesNo,
	models.StepAskConfirmation:  validateYesNo,
	models.StepAskFlavor:        validateFlavor,
	models.StepAskLayers:        validateLayers,
	models.StepAskSize:          validateSize,
	models.StepAskTiers:         validateTiers,
	models.StepAskColor:         validateText,
	models.StepAskTheme:         validateText,
}

// Validate checks message against the rule for step, reading earlier answers
// from data for cross-field rules. It never modifies data. Steps without a
// dedicated rule accept any non-empty input.
func Validate(step models.StepType, message string, data map[models.DataKey]string, now time.Time) (bool, string) {
	if r, ok := rules[step]; ok {
		return r(message, data, now)
	}
	if strings.TrimSpace(message) == "" {
		return false, ErrMsgEmptyResponse
	}
	return true, ""
}

func validateDate(message string, _ map[models.DataKey]string, now time.Time) (bool, string) {
	eventDate, err := models.ParseEventDate(message, now.Location())
	if err != nil {
		return false, ErrMsgDateFormat
	}
	if eventDate.Before(now.Add(-PastDateGrace)) {
		return false, ErrMsgDatePast
	}
	return true, ""
}

func validateYesNo(message string, _ map[models.DataKey]string, _ time.Time) (bool, string) {
	if _, ok := NormalizeYesNo(message); ok {
		return true, ""
	}
	return false, ErrMsgYesNo
}

func validateFlavor(message string, _ map[models.DataKey]string, _ time.Time) (bool, string) {
	if isFlavor(NormalizeInput(message)) {
		return true, ""
	}
	return false, fmt.Sprintf("Sorry, we only offer these flavors: %s. Please choose one.", FlavorMenu())
}

func validateLayers(message string, _ map[models.DataKey]string, _ time.Time) (bool, string) {
	layers, err := strconv.Atoi(strings.TrimSpace(message))
	if err != nil {
		return false, ErrMsgLayersNumber
	}
	if _, ok := LayerSizes[layers]; !ok {
		return false, fmt.Sprintf("We only support %s layers. Please choose one of those numbers.", LayerMenu())
	}
	return true, ""
}

func validateSize(message string, data map[models.DataKey]string, _ time.Time) (bool, string) {
	layers, err := strconv.Atoi(strings.TrimSpace(data[models.DataKeyNumLayers]))
	if err != nil {
		return false, ErrMsgLayersFirst
	}
	sizes := SizesForLayers(layers)
	if len(sizes) == 0 {
		return false, ErrMsgLayersFirst
	}
	if containsString(sizes, NormalizeInput(message)) {
		return true, ""
	}
	return false, fmt.Sprintf("The size you entered is not available for %d layers. Please choose from these options: %s.",
		layers, strings.Join(sizes, ", "))
}

func validateTiers(message string, _ map[models.DataKey]string, _ time.Time) (bool, string) {
	tiers, err := strconv.Atoi(strings.TrimSpace(message))
	if err != nil {
		return false, ErrMsgTiersNumber
	}
	if tiers < MinTiers || tiers > MaxTiers {
		return false, fmt.Sprintf("Please enter a number between %d and %d for the number of tiers.", MinTiers, MaxTiers)
	}
	return true, ""
}

func validateText(message string, _ map[models.DataKey]string, _ time.Time) (bool, string) {
	if utf8.RuneCountInString(strings.TrimSpace(message)) < MinTextAnswerLength {
		return false, ErrMsgTextTooShort
	}
	return true, ""
}
