package broker

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultTopicPrefix prefixes per-subscriber topic names.
	DefaultTopicPrefix = "earthquake-alerts"

	maxTopicName      = 256
	fallbackTopicName = "subscriber-topic"
)

var (
	invalidTopicChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	repeatedDashes    = regexp.MustCompile(`-{2,}`)
)

// SafeTopicName turns name into a valid SNS topic name: letters, digits,
// hyphens and underscores, at most 256 characters.
func SafeTopicName(name string) string {
	s := invalidTopicChars.ReplaceAllString(name, "-")
	s = repeatedDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxTopicName {
		s = strings.TrimRight(s[:maxTopicName], "-")
	}
	if s == "" {
		return fallbackTopicName
	}
	return s
}

// SubscriberTopicName returns the per-subscriber topic name for id.
func SubscriberTopicName(prefix string, id int) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultTopicPrefix
	}
	return SafeTopicName(fmt.Sprintf("%s-subscriber-%d", prefix, id))
}
