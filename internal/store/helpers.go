package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" for
// PostgreSQL URLs or key/value connection strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalData encodes conversation data for a text/JSONB column.
func marshalData(data map[models.DataKey]string) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation data: %w", err)
	}
	return string(b), nil
}

// unmarshalData decodes conversation data; an empty column yields an empty map.
func unmarshalData(raw string) (map[models.DataKey]string, error) {
	data := make(map[models.DataKey]string)
	if raw == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return make(map[models.DataKey]string), fmt.Errorf("failed to decode conversation data: %w", err)
	}
	return data, nil
}

// orderColumns is the column list shared by the SQL backends.
const orderColumns = `user_id, event_date, cake_flavor, cake_size, num_layers, num_tiers, cake_color,
	cake_theme, venue_indoors, venue_ac, has_picture, image_url, created_at`

func orderArgs(o models.Order) []interface{} {
	return []interface{}{
		o.UserID, o.EventDate, o.Flavor, o.Size, o.Layers, o.Tiers, o.Color,
		o.Theme, o.VenueIndoors, o.VenueAC, o.HasPicture, nilIfEmpty(o.ImageURL), o.CreatedAt,
	}
}

// scanOrders scans rows selected with orderColumns.
func scanOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var imageURL sql.NullString
		err := rows.Scan(
			&o.UserID, &o.EventDate, &o.Flavor, &o.Size, &o.Layers, &o.Tiers, &o.Color,
			&o.Theme, &o.VenueIndoors, &o.VenueAC, &o.HasPicture, &imageURL, &o.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order failed: %w", err)
		}
		o.ImageURL = imageURL.String
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order rows: %w", err)
	}
	return orders, nil
}
