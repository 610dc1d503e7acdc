package flow

import (
	"strings"
	"testing"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

func TestRenderSummary(t *testing.T) {
	data := map[models.DataKey]string{
		models.DataKeyEventDate:  "25/12/2026",
		models.DataKeyCakeFlavor: "Chocolate",
		models.DataKeyNumLayers:  "2",
		models.DataKeyImageURL:   "https://cdn.example.com/a.jpg",
	}
	out := RenderSummary(data)

	for _, want := range []string{
		"📋 *Order Summary*",
		"• Event Date: 25/12/2026",
		"• Cake Flavor: Chocolate",
		"• Number of Layers: 2",
		"• Reference Image: View image: https://cdn.example.com/a.jpg",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Cake Size") {
		t.Errorf("summary should omit fields not collected:\n%s", out)
	}
	if strings.Index(out, "Event Date") > strings.Index(out, "Cake Flavor") {
		t.Errorf("summary fields out of order:\n%s", out)
	}
}

func TestRenderSummary_SkippedImage(t *testing.T) {
	out := RenderSummary(map[models.DataKey]string{models.DataKeyImageURL: models.ImageSkipped})
	if !strings.Contains(out, "Reference Image: Not provided") {
		t.Errorf("expected skipped image label, got:\n%s", out)
	}
}

func TestRenderOrderList(t *testing.T) {
	if got := RenderOrderList(nil); got != "You have no upcoming orders with us." {
		t.Errorf("empty list = %q", got)
	}

	out := RenderOrderList([]models.Order{
		{EventDate: "25/12/2026", Flavor: "red velvet", Size: "8", Layers: "2", Tiers: "1", Theme: "Floral"},
		{EventDate: "01/01/2027", Flavor: "lemon", Size: "6", Layers: "3", Tiers: "2"},
	})
	for _, want := range []string{"1. 25/12/2026 | Red Velvet (8)", "theme: Floral", "2. 01/01/2027 | Lemon (6)"} {
		if !strings.Contains(out, want) {
			t.Errorf("order list missing %q:\n%s", want, out)
		}
	}
}
