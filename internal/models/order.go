package models

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// EventDateLayout is the day/month/year layout customers use for event dates.
// Single-digit days and months are accepted.
const EventDateLayout = "2/1/2006"

// Order is the flattened record written once a customer confirms their order.
type Order struct {
	UserID       string    `json:"user_id"`
	EventDate    string    `json:"event_date"`
	Flavor       string    `json:"cake_flavor"`
	Size         string    `json:"cake_size"`
	Layers       string    `json:"num_layers"`
	Tiers        string    `json:"num_tiers"`
	Color        string    `json:"cake_color"`
	Theme        string    `json:"cake_theme"`
	VenueIndoors string    `json:"venue_indoors"`
	VenueAC      string    `json:"venue_ac"`
	HasPicture   string    `json:"has_picture"`
	ImageURL     string    `json:"image_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// OrderFromData builds an Order from the answers collected in a conversation.
func OrderFromData(userID string, data map[DataKey]string, now time.Time) Order {
	return Order{
		UserID:       userID,
		EventDate:    data[DataKeyEventDate],
		Flavor:       data[DataKeyCakeFlavor],
		Size:         data[DataKeyCakeSize],
		Layers:       data[DataKeyNumLayers],
		Tiers:        data[DataKeyNumTiers],
		Color:        data[DataKeyCakeColor],
		Theme:        data[DataKeyCakeTheme],
		VenueIndoors: data[DataKeyVenueIndoors],
		VenueAC:      data[DataKeyVenueAC],
		HasPicture:   data[DataKeyHasPicture],
		ImageURL:     data[DataKeyImageURL],
		CreatedAt:    now,
	}
}

// Fields returns the order as a data mapping, including the user id.
// Empty fields are omitted.
func (o Order) Fields() map[DataKey]string {
	all := map[DataKey]string{
		DataKeyUserID:       o.UserID,
		DataKeyEventDate:    o.EventDate,
		DataKeyCakeFlavor:   o.Flavor,
		DataKeyCakeSize:     o.Size,
		DataKeyNumLayers:    o.Layers,
		DataKeyNumTiers:     o.Tiers,
		DataKeyCakeColor:    o.Color,
		DataKeyCakeTheme:    o.Theme,
		DataKeyVenueIndoors: o.VenueIndoors,
		DataKeyVenueAC:      o.VenueAC,
		DataKeyHasPicture:   o.HasPicture,
		DataKeyImageURL:     o.ImageURL,
	}
	for k, v := range all {
		if v == "" {
			delete(all, k)
		}
	}
	return all
}

// EventTime parses the event date in the given location.
func (o Order) EventTime(loc *time.Location) (time.Time, error) {
	t, err := ParseEventDate(o.EventDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("order for %s has invalid event date: %w", o.UserID, err)
	}
	return t, nil
}

// HasImage reports whether the order carries a real uploaded image reference.
func (o Order) HasImage() bool {
	return o.ImageURL != "" && o.ImageURL != ImageSkipped
}

// ParseEventDate parses a DD/MM/YYYY date at midnight in loc.
func ParseEventDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(EventDateLayout, strings.TrimSpace(value), loc)
}

// UpcomingOrders returns the orders whose event date is on or after today,
// sorted by event date. Orders with unparseable dates are skipped.
func UpcomingOrders(orders []Order, today time.Time) []Order {
	type dated struct {
		order Order
		at    time.Time
	}
	var upcoming []dated
	for _, o := range orders {
		at, err := o.EventTime(today.Location())
		if err != nil {
			slog.Warn("UpcomingOrders skipping order", "error", err, "userID", o.UserID)
			continue
		}
		if at.Before(today) {
			continue
		}
		upcoming = append(upcoming, dated{order: o, at: at})
	}
	sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].at.Before(upcoming[j].at) })

	out := make([]Order, len(upcoming))
	for i, d := range upcoming {
		out[i] = d.order
	}
	return out
}
