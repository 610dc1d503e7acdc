package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// displayField pairs a data key with its customer-facing label.
type displayField struct {
	Key   models.DataKey
	Label string
}

// summaryFields is the display order of the order summary.
var summaryFields = []displayField{
	{models.DataKeyEventDate, "Event Date"},
	{models.DataKeyCakeFlavor, "Cake Flavor"},
	{models.DataKeyNumLayers, "Number of Layers"},
	{models.DataKeyCakeSize, "Cake Size"},
	{models.DataKeyNumTiers, "Number of Tiers"},
	{models.DataKeyCakeColor, "Primary Color"},
	{models.DataKeyCakeTheme, "Theme/Description"},
	{models.DataKeyVenueIndoors, "Venue Indoors?"},
	{models.DataKeyVenueAC, "Venue with A/C?"},
	{models.DataKeyHasPicture, "Picture Sent?"},
	{models.DataKeyImageURL, "Reference Image"},
}

// RenderSummary renders the collected answers as a labeled recap. Only fields
// present in data are included.
func RenderSummary(data map[models.DataKey]string) string {
	var sb strings.Builder
	sb.WriteString("📋 *Order Summary*")
	for _, f := range summaryFields {
		value, ok := data[f.Key]
		if !ok {
			continue
		}
		if f.Key == models.DataKeyImageURL {
			value = imageLabel(value)
		}
		sb.WriteString(fmt.Sprintf("\n• %s: %s", f.Label, value))
	}
	return sb.String()
}

func imageLabel(value string) string {
	if value == "" || value == models.ImageSkipped {
		return "Not provided"
	}
	return "View image: " + value
}

// RenderOrderList renders upcoming orders for the view-orders menu choice.
func RenderOrderList(orders []models.Order) string {
	if len(orders) == 0 {
		return "You have no upcoming orders with us."
	}
	var sb strings.Builder
	sb.WriteString("📅 *Your upcoming orders:*")
	for i, o := range orders {
		sb.WriteString(fmt.Sprintf("\n%d. %s | %s (%s), %s layer(s), %s tier(s)",
			i+1, o.EventDate, titleCase(o.Flavor), o.Size, o.Layers, o.Tiers))
		if o.Theme != "" {
			sb.WriteString(", theme: " + o.Theme)
		}
	}
	return sb.String()
}
