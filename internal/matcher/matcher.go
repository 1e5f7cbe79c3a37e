// Package matcher decides which subscribers want a given earthquake.
package matcher

import (
	"quake-alerts/internal/database"
	"quake-alerts/internal/events"
)

// Matches reports whether sub's preferences accept eq. An unset filter is a
// wildcard; set filters are ANDed. The magnitude threshold is inclusive.
func Matches(sub database.Subscriber, eq events.Earthquake) bool {
	if sub.CountryID != nil && *sub.CountryID != eq.CountryID {
		return false
	}
	if sub.MinMagnitude != nil && eq.Magnitude < *sub.MinMagnitude {
		return false
	}
	return true
}

// Filter returns the subscribers that match eq, preserving order.
func Filter(subs []database.Subscriber, eq events.Earthquake) []database.Subscriber {
	var matched []database.Subscriber
	for _, s := range subs {
		if Matches(s, eq) {
			matched = append(matched, s)
		}
	}
	return matched
}

// Count returns how many subscribers match eq.
func Count(subs []database.Subscriber, eq events.Earthquake) int {
	n := 0
	for _, s := range subs {
		if Matches(s, eq) {
			n++
		}
	}
	return n
}
