package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"quake-alerts/internal/events"
)

// FetchCountryName returns the display name of a country, or "" when the
// country table has no such row.
func (db *DB) FetchCountryName(ctx context.Context, countryID int) (string, error) {
	query := fmt.Sprintf(`
		SELECT country_name
		FROM %s
		WHERE country_id = $1
		LIMIT 1
	`, db.tables.qualified(db.tables.Countries))

	var name sql.NullString
	err := db.conn.QueryRowContext(ctx, query, countryID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get country name: %w", err)
	}
	return name.String, nil
}

// FetchRecentEvents returns earthquakes created within window of now (UTC),
// oldest first.
func (db *DB) FetchRecentEvents(ctx context.Context, window time.Duration) ([]events.Earthquake, error) {
	query := fmt.Sprintf(`
		SELECT event_id, country_id, magnitude_value, creation_time,
		       description, longitude, latitude
		FROM %s
		WHERE creation_time >= (NOW() AT TIME ZONE 'utc') - make_interval(secs => $1)
		ORDER BY creation_time ASC
	`, db.tables.qualified(db.tables.Events))

	rows, err := db.conn.QueryContext(ctx, query, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var quakes []events.Earthquake
	for rows.Next() {
		var (
			eq          events.Earthquake
			createdAt   time.Time
			description sql.NullString
			longitude   sql.NullFloat64
			latitude    sql.NullFloat64
		)
		if err := rows.Scan(&eq.ID, &eq.CountryID, &eq.Magnitude, &createdAt, &description, &longitude, &latitude); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		eq.OccurredAt = createdAt.Format(time.RFC3339)
		eq.Place = describePlace(description, latitude, longitude)
		quakes = append(quakes, eq)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return quakes, nil
}

// describePlace joins the free-text description and "lat, lon" coordinates.
func describePlace(description sql.NullString, latitude, longitude sql.NullFloat64) string {
	var parts []string
	if d := strings.TrimSpace(description.String); d != "" {
		parts = append(parts, d)
	}
	if latitude.Valid && longitude.Valid {
		parts = append(parts, fmt.Sprintf("%.5f, %.5f", latitude.Float64, longitude.Float64))
	}
	return strings.Join(parts, " ")
}
