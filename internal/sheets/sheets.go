// Package sheets stores confirmed orders in a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// DefaultSheetName is the worksheet orders are appended to.
const DefaultSheetName = "Sheet1"

// TimestampLayout is the layout of the first column.
const TimestampLayout = "2006-01-02 15:04:05"

// valueInputOption lets Sheets parse dates and numbers as if typed by a user.
const valueInputOption = "USER_ENTERED"

// Column order of the orders sheet.
var columns = []string{
	"timestamp", "user_id", "event_date", "cake_flavor", "cake_size", "num_layers",
	"num_tiers", "cake_color", "venue_indoors", "venue_ac", "has_picture", "cake_theme", "image_url",
}

// ErrNotConfigured is returned when the spreadsheet ID is missing.
var ErrNotConfigured = errors.New("spreadsheet not configured")

// valuesAPI is the subset of the Sheets API the repository uses.
type valuesAPI interface {
	Append(ctx context.Context, spreadsheetID, rangeA1 string, row []interface{}) error
	Get(ctx context.Context, spreadsheetID, rangeA1 string) ([][]interface{}, error)
}

// Opts holds configuration for the Sheets repository.
type Opts struct {
	CredentialsFile string
	SpreadsheetID   string
	SheetName       string
	Location        *time.Location
}

// Option configures the repository.
type Option func(*Opts)

// WithCredentialsFile sets the service account JSON file.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) { o.CredentialsFile = path }
}

// WithSpreadsheetID sets the target spreadsheet.
func WithSpreadsheetID(id string) Option {
	return func(o *Opts) { o.SpreadsheetID = id }
}

// WithSheetName sets the worksheet (tab) name.
func WithSheetName(name string) Option {
	return func(o *Opts) { o.SheetName = name }
}

// WithLocation sets the timezone used for the timestamp column.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// Repository implements the order repository on a spreadsheet.
type Repository struct {
	api           valuesAPI
	spreadsheetID string
	sheetName     string
	loc           *time.Location
}

// NewRepository connects to the Sheets API with the configured service account.
func NewRepository(ctx context.Context, opts ...Option) (*Repository, error) {
	cfg := applyOpts(opts)
	if cfg.SpreadsheetID == "" {
		return nil, ErrNotConfigured
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	srv, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		slog.Error("Sheets.NewRepository: failed to create service", "error", err)
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	slog.Info("Sheets repository initialized", "sheet", cfg.SheetName)
	return newRepository(&serviceValues{srv: srv}, cfg), nil
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{SheetName: DefaultSheetName, Location: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return cfg
}

func newRepository(api valuesAPI, cfg Opts) *Repository {
	return &Repository{api: api, spreadsheetID: cfg.SpreadsheetID, sheetName: cfg.SheetName, loc: cfg.Location}
}

// rangeA1 covers every order column.
func (r *Repository) rangeA1() string {
	last := rune('A' + len(columns) - 1)
	return fmt.Sprintf("'%s'!A:%c", strings.ReplaceAll(r.sheetName, "'", "''"), last)
}

// SaveOrder appends the order as one row.
func (r *Repository) SaveOrder(ctx context.Context, order models.Order) error {
	row := orderRow(order, r.loc)
	if err := r.api.Append(ctx, r.spreadsheetID, r.rangeA1(), row); err != nil {
		slog.Error("Sheets.SaveOrder failed", "error", err, "userID", order.UserID)
		return fmt.Errorf("failed to append order row: %w", err)
	}
	slog.Info("Sheets.SaveOrder succeeded", "userID", order.UserID, "event_date", order.EventDate)
	return nil
}

// FutureOrders reads every row and returns the user's orders dated today or later.
func (r *Repository) FutureOrders(ctx context.Context, userID string, today time.Time) ([]models.Order, error) {
	rows, err := r.api.Get(ctx, r.spreadsheetID, r.rangeA1())
	if err != nil {
		slog.Error("Sheets.FutureOrders read failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to read order rows: %w", err)
	}

	var mine []models.Order
	for _, row := range rows {
		o, ok := parseRow(row, r.loc)
		if !ok || o.UserID != userID {
			continue
		}
		mine = append(mine, o)
	}
	upcoming := models.UpcomingOrders(mine, today)
	slog.Debug("Sheets.FutureOrders", "userID", userID, "rows", len(rows), "upcoming", len(upcoming))
	return upcoming, nil
}

// orderRow renders an order in column order.
func orderRow(o models.Order, loc *time.Location) []interface{} {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return []interface{}{
		created.In(loc).Format(TimestampLayout),
		o.UserID, o.EventDate, o.Flavor, o.Size, o.Layers, o.Tiers, o.Color,
		o.VenueIndoors, o.VenueAC, o.HasPicture, o.Theme, o.ImageURL,
	}
}

// parseRow reads an order from a sheet row. The header row and rows without
// a user id are rejected.
func parseRow(row []interface{}, loc *time.Location) (models.Order, bool) {
	cell := func(i int) string {
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(row[i]))
	}
	if cell(1) == "" || strings.EqualFold(cell(1), "user_id") {
		return models.Order{}, false
	}

	o := models.Order{
		UserID:       cell(1),
		EventDate:    cell(2),
		Flavor:       cell(3),
		Size:         cell(4),
		Layers:       cell(5),
		Tiers:        cell(6),
		Color:        cell(7),
		VenueIndoors: cell(8),
		VenueAC:      cell(9),
		HasPicture:   cell(10),
		Theme:        cell(11),
		ImageURL:     cell(12),
	}
	if ts, err := time.ParseInLocation(TimestampLayout, cell(0), loc); err == nil {
		o.CreatedAt = ts
	}
	return o, true
}

// serviceValues adapts the generated client to valuesAPI.
type serviceValues struct {
	srv *gsheets.Service
}

func (s *serviceValues) Append(ctx context.Context, spreadsheetID, rangeA1 string, row []interface{}) error {
	_, err := s.srv.Spreadsheets.Values.Append(spreadsheetID, rangeA1, &gsheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (s *serviceValues) Get(ctx context.Context, spreadsheetID, rangeA1 string) ([][]interface{}, error) {
	resp, err := s.srv.Spreadsheets.Values.Get(spreadsheetID, rangeA1).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}
