package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// FetchSubscribers returns every subscriber with a usable email address.
func (db *DB) FetchSubscribers(ctx context.Context) ([]Subscriber, error) {
	query := fmt.Sprintf(`
		SELECT subscriber_id, subscriber_name, subscriber_email, weekly,
		       country_id, magnitude_value, sns_topic_arn
		FROM %s
		WHERE subscriber_email IS NOT NULL AND btrim(subscriber_email) <> ''
		ORDER BY subscriber_id
	`, db.tables.qualified(db.tables.Subscribers))

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var (
			s         Subscriber
			name      sql.NullString
			weekly    sql.NullBool
			countryID sql.NullInt64
			magnitude sql.NullFloat64
			topicARN  sql.NullString
		)
		if err := rows.Scan(&s.ID, &name, &s.Email, &weekly, &countryID, &magnitude, &topicARN); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		s.Name = name.String
		s.Weekly = weekly.Bool
		s.TopicARN = topicARN.String
		if countryID.Valid {
			c := int(countryID.Int64)
			s.CountryID = &c
		}
		if magnitude.Valid {
			m := magnitude.Float64
			s.MinMagnitude = &m
		}
		subs = append(subs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscribers: %w", err)
	}

	slog.Debug("Fetched subscribers", "count", len(subs), "table", db.tables.Subscribers)
	return subs, nil
}

// UpdateSubscriberTopicARN stores the per-subscriber topic handle.
func (db *DB) UpdateSubscriberTopicARN(ctx context.Context, subscriberID int, topicARN string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET sns_topic_arn = $1
		WHERE subscriber_id = $2
	`, db.tables.qualified(db.tables.Subscribers))

	result, err := db.conn.ExecContext(ctx, query, topicARN, subscriberID)
	if err != nil {
		return fmt.Errorf("failed to update subscriber topic: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("subscriber not found: %d", subscriberID)
	}

	slog.Debug("Stored subscriber topic", "subscriber_id", subscriberID, "topic_arn", topicARN)
	return nil
}
