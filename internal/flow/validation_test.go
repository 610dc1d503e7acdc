package flow

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

var testNow = time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)

func TestValidate(t *testing.T) {
	twoLayers := map[models.DataKey]string{models.DataKeyNumLayers: "2"}
	threeLayers := map[models.DataKey]string{models.DataKeyNumLayers: "3"}

	tests := []struct {
		name    string
		step    models.StepType
		message string
		data    map[models.DataKey]string
		wantOK  bool
		wantErr string
	}{
		{"future date", models.StepAskDate, "25/12/2026", nil, true, ""},
		{"single digit date", models.StepAskDate, " 5/7/2026 ", nil, true, ""},
		{"today within grace", models.StepAskDate, "01/06/2026", nil, true, ""},
		{"past date", models.StepAskDate, "01/01/2020", nil, false, ErrMsgDatePast},
		{"bad date format", models.StepAskDate, "2026-12-25", nil, false, ErrMsgDateFormat},
		{"month out of range", models.StepAskDate, "25/13/2026", nil, false, ErrMsgDateFormat},
		{"yes", models.StepAskIndoors, "Yes", nil, true, ""},
		{"y padded", models.StepAskAC, "  Y ", nil, true, ""},
		{"n", models.StepAskCustomPicture, "n", nil, true, ""},
		{"maybe", models.StepAskConfirmation, "maybe", nil, false, ErrMsgYesNo},
		{"flavor case-insensitive", models.StepAskFlavor, "Red Velvet", nil, true, ""},
		{"flavor extra spaces", models.StepAskFlavor, "cookies  and cream", nil, true, ""},
		{"layers ok", models.StepAskLayers, "3", nil, true, ""},
		{"layers not a number", models.StepAskLayers, "two", nil, false, ErrMsgLayersNumber},
		{"size matches layers", models.StepAskSize, "Half Sheet", twoLayers, true, ""},
		{"size without layers", models.StepAskSize, "8", nil, false, ErrMsgLayersFirst},
		{"size with corrupt layers", models.StepAskSize, "8", map[models.DataKey]string{models.DataKeyNumLayers: "7"}, false, ErrMsgLayersFirst},
		{"size 3 layers ok", models.StepAskSize, "6", threeLayers, true, ""},
		{"tiers lower bound", models.StepAskTiers, "1", nil, true, ""},
		{"tiers upper bound", models.StepAskTiers, "5", nil, true, ""},
		{"tiers not a number", models.StepAskTiers, "many", nil, false, ErrMsgTiersNumber},
		{"color", models.StepAskColor, "Blue", nil, true, ""},
		{"color too short", models.StepAskColor, " b ", nil, false, ErrMsgTextTooShort},
		{"theme multibyte", models.StepAskTheme, "🌸🌸", nil, true, ""},
		{"default rule empty", models.StepAskImageUpload, "   ", nil, false, ErrMsgEmptyResponse},
		{"default rule text", models.StepAskImageUpload, "anything", nil, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, errMsg := Validate(tt.step, tt.message, tt.data, testNow)
			if ok != tt.wantOK {
				t.Fatalf("Validate(%s, %q) ok = %v, want %v (err %q)", tt.step, tt.message, ok, tt.wantOK, errMsg)
			}
			if tt.wantErr != "" && errMsg != tt.wantErr {
				t.Errorf("error = %q, want %q", errMsg, tt.wantErr)
			}
			if ok && errMsg != "" {
				t.Errorf("accepted answer returned error %q", errMsg)
			}
		})
	}
}

func TestValidate_PastDateMentionsPast(t *testing.T) {
	_, errMsg := Validate(models.StepAskDate, "01/01/2020", nil, testNow)
	if !strings.Contains(strings.ToLower(errMsg), "past") {
		t.Errorf("expected past-date error to mention 'past', got %q", errMsg)
	}
}

func TestValidate_EnumeratedErrorsListAllowedSet(t *testing.T) {
	_, errMsg := Validate(models.StepAskFlavor, "pistachio", nil, testNow)
	for _, f := range Flavors {
		if !strings.Contains(strings.ToLower(errMsg), f) {
			t.Errorf("flavor error missing %q: %q", f, errMsg)
		}
	}

	_, errMsg = Validate(models.StepAskLayers, "4", nil, testNow)
	if !strings.Contains(errMsg, LayerMenu()) {
		t.Errorf("layers error missing allowed set %q: %q", LayerMenu(), errMsg)
	}

	_, errMsg = Validate(models.StepAskTiers, "6", nil, testNow)
	if !strings.Contains(errMsg, "1 and 5") {
		t.Errorf("tiers error missing range: %q", errMsg)
	}
}

func TestValidate_SizeNeverAcceptsOtherLayerSet(t *testing.T) {
	for _, layers := range ValidLayers() {
		data := map[models.DataKey]string{models.DataKeyNumLayers: strconv.Itoa(layers)}
		allowed := SizesForLayers(layers)
		for _, other := range ValidLayers() {
			for _, size := range SizesForLayers(other) {
				ok, errMsg := Validate(models.StepAskSize, size, data, testNow)
				if ok != containsString(allowed, size) {
					t.Errorf("layers=%d size=%q: ok=%v, want %v", layers, size, ok, !ok)
				}
				if !ok && !strings.Contains(errMsg, strings.Join(allowed, ", ")) {
					t.Errorf("layers=%d size=%q: error does not echo options: %q", layers, size, errMsg)
				}
			}
		}
	}
}

func TestValidate_DoesNotMutateData(t *testing.T) {
	data := map[models.DataKey]string{models.DataKeyNumLayers: "2"}
	Validate(models.StepAskSize, "12", data, testNow)
	if len(data) != 1 || data[models.DataKeyNumLayers] != "2" {
		t.Errorf("data modified: %v", data)
	}
}

func TestNormalizeYesNo(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"YES", "yes", true},
		{" y", "yes", true},
		{"No ", "no", true},
		{"N", "no", true},
		{"nope", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeYesNo(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NormalizeYesNo(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
