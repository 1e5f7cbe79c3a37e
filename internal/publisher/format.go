package publisher

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"quake-alerts/internal/broker"
	"quake-alerts/internal/events"
	"quake-alerts/internal/policy"
)

// MaxSubjectRunes is the subject length limit, counted in characters.
const MaxSubjectRunes = 100

// Subject formats the email subject of an alert, truncated to MaxSubjectRunes.
func Subject(eq events.Earthquake) string {
	country := eq.CountryName
	if country == "" {
		country = fmt.Sprintf("country_id=%d", eq.CountryID)
	}
	where := ""
	if eq.Place != "" {
		where = " - " + eq.Place
	}
	return Truncate(fmt.Sprintf("Earthquake alert: M%.1f in %s%s", eq.Magnitude, country, where), MaxSubjectRunes)
}

// Body formats the plain-text email body of an alert.
func Body(eq events.Earthquake) string {
	country := eq.CountryName
	if country == "" {
		country = fmt.Sprintf("(country_id=%d)", eq.CountryID)
	}

	var b strings.Builder
	b.WriteString("An earthquake has been recorded.\n\n")
	fmt.Fprintf(&b, "Earthquake ID: %d\n", eq.ID)
	fmt.Fprintf(&b, "Time: %s\n", eq.OccurredAt)
	fmt.Fprintf(&b, "Country: %s\n", country)
	fmt.Fprintf(&b, "Magnitude: %s\n", policy.FormatNumber(eq.Magnitude))
	if eq.Place != "" {
		fmt.Fprintf(&b, "\nLocation: %s", eq.Place)
	}
	b.WriteString("\n")
	return b.String()
}

// Attributes returns the message attributes subscription filter policies
// are evaluated against.
func Attributes(eq events.Earthquake) []broker.Attribute {
	return []broker.Attribute{
		{Name: policy.AttrCountryID, DataType: broker.DataTypeString, Value: strconv.Itoa(eq.CountryID)},
		{Name: policy.AttrMagnitude, DataType: broker.DataTypeNumber, Value: policy.FormatNumber(eq.Magnitude)},
	}
}

// Message assembles the broker message for eq on topicARN.
func Message(topicARN string, eq events.Earthquake) broker.Message {
	return broker.Message{
		TopicARN:   topicARN,
		Subject:    Subject(eq),
		Body:       Body(eq),
		Attributes: Attributes(eq),
	}
}

// Truncate returns at most n runes of s. Invalid UTF-8 bytes count as one
// rune each and are kept as they are.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
