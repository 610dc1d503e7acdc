// Package calendar books confirmed orders as all-day events in Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// dateLayout is the RFC 3339 full-date layout used for all-day events.
const dateLayout = "2006-01-02"

// ErrCalendarNotConfigured is returned when no calendar ID is set.
var ErrCalendarNotConfigured = errors.New("calendar not configured")

// eventInserter is the subset of the Calendar API the service uses.
type eventInserter interface {
	Insert(ctx context.Context, calendarID string, event *gcal.Event) error
}

// Opts holds configuration for the calendar service.
type Opts struct {
	CredentialsFile string
	CalendarID      string
}

// Option configures the calendar service.
type Option func(*Opts)

// WithCredentialsFile sets the service account JSON file.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) { o.CredentialsFile = path }
}

// WithCalendarID sets the calendar events are created in.
func WithCalendarID(id string) Option {
	return func(o *Opts) { o.CalendarID = id }
}

// Service creates order events.
type Service struct {
	events     eventInserter
	calendarID string
}

// NewService connects to the Calendar API.
func NewService(ctx context.Context, opts ...Option) (*Service, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CalendarID == "" {
		return nil, ErrCalendarNotConfigured
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	srv, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		slog.Error("Calendar.NewService: failed to create service", "error", err)
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	slog.Info("Calendar service initialized")
	return &Service{events: &serviceEvents{srv: srv}, calendarID: cfg.CalendarID}, nil
}

// CreateEvent inserts an all-day event on the order's event date.
func (s *Service) CreateEvent(ctx context.Context, order models.Order) error {
	event, err := buildEvent(order)
	if err != nil {
		slog.Error("Calendar.CreateEvent: invalid order", "error", err, "userID", order.UserID)
		return err
	}
	if err := s.events.Insert(ctx, s.calendarID, event); err != nil {
		slog.Error("Calendar.CreateEvent failed", "error", err, "userID", order.UserID)
		return fmt.Errorf("failed to insert calendar event: %w", err)
	}
	slog.Info("Calendar.CreateEvent succeeded", "summary", event.Summary)
	return nil
}

// buildEvent renders the event for an order. The end date is exclusive, so
// a one-day event ends the day after it starts.
func buildEvent(o models.Order) (*gcal.Event, error) {
	day, err := o.EventTime(nil)
	if err != nil {
		return nil, err
	}
	title := cases.Title(language.English)

	flavor := orDefault(o.Flavor, "Custom")
	size := orDefault(o.Size, "Unknown Size")
	theme := orDefault(o.Theme, "Unknown Theme")

	var desc strings.Builder
	fmt.Fprintf(&desc, "Customer Phone: %s\n", orDefault(o.UserID, "Unknown Customer"))
	fmt.Fprintf(&desc, "Flavor: %s\n", title.String(flavor))
	fmt.Fprintf(&desc, "Size/Layers: %s (%s layers)\n", size, o.Layers)
	fmt.Fprintf(&desc, "Tiers: %s\n", o.Tiers)
	fmt.Fprintf(&desc, "Primary Color: %s\n", o.Color)
	fmt.Fprintf(&desc, "Theme: %s\n", theme)
	fmt.Fprintf(&desc, "Venue Indoors: %s, A/C: %s\n", o.VenueIndoors, o.VenueAC)
	fmt.Fprintf(&desc, "Picture Sent: %s\n", o.HasPicture)
	imageURL := "N/A"
	if o.HasImage() {
		imageURL = o.ImageURL
	}
	fmt.Fprintf(&desc, "Image URL: %s\n", imageURL)
	desc.WriteString("--- Generated by OrderPipe ---")

	return &gcal.Event{
		Summary:     fmt.Sprintf("CAKE ORDER: %s (%s) - %s", title.String(flavor), size, theme),
		Description: desc.String(),
		Start:       &gcal.EventDateTime{Date: day.Format(dateLayout)},
		End:         &gcal.EventDateTime{Date: day.AddDate(0, 0, 1).Format(dateLayout)},
		Reminders:   &gcal.EventReminders{UseDefault: true},
	}, nil
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// serviceEvents adapts the generated client to eventInserter.
type serviceEvents struct {
	srv *gcal.Service
}

func (s *serviceEvents) Insert(ctx context.Context, calendarID string, event *gcal.Event) error {
	_, err := s.srv.Events.Insert(calendarID, event).Context(ctx).Do()
	return err
}
