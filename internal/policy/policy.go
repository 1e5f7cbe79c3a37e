// Package policy builds SNS subscription filter policies from subscriber
// preferences.
//
// A FilterPolicy is a small tagged value rather than a free-form map, so the
// JSON sent to the broker is canonical: keys always appear as country_id then
// magnitude, output is compact, and thresholds always carry a fractional part
// ("2.0", never "2"). Building the same preferences twice yields byte-identical
// output, which is what makes repeated policy updates safe.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Attribute names shared with the publisher's message attributes.
const (
	AttrCountryID = "country_id"
	AttrMagnitude = "magnitude"
)

// CountryConstraint requires the country_id attribute to equal CountryID.
type CountryConstraint struct {
	CountryID int
}

// MagnitudeConstraint requires the magnitude attribute to be >= Min.
type MagnitudeConstraint struct {
	Min float64
}

// FilterPolicy is the broker-side filter for one subscription. A nil
// constraint does not restrict; the zero value accepts every message.
type FilterPolicy struct {
	Country   *CountryConstraint
	Magnitude *MagnitudeConstraint
}

// Build derives the policy for a subscriber's preferences. Non-finite
// thresholds cannot be expressed in a policy and are treated as unset.
func Build(countryID *int, minMagnitude *float64) FilterPolicy {
	var p FilterPolicy
	if countryID != nil {
		p.Country = &CountryConstraint{CountryID: *countryID}
	}
	if minMagnitude != nil && !math.IsNaN(*minMagnitude) && !math.IsInf(*minMagnitude, 0) {
		p.Magnitude = &MagnitudeConstraint{Min: *minMagnitude}
	}
	return p
}

// IsEmpty reports whether the policy has no constraints.
func (p FilterPolicy) IsEmpty() bool {
	return p.Country == nil && p.Magnitude == nil
}

// Allows reports whether a message carrying the given country and magnitude
// attributes would pass this policy on the broker.
func (p FilterPolicy) Allows(countryID int, magnitude float64) bool {
	if p.Country != nil && p.Country.CountryID != countryID {
		return false
	}
	if p.Magnitude != nil && magnitude < p.Magnitude.Min {
		return false
	}
	return true
}

type numericRule struct {
	Numeric []any `json:"numeric"`
}

type wirePolicy struct {
	CountryID []string      `json:"country_id,omitempty"`
	Magnitude []numericRule `json:"magnitude,omitempty"`
}

// JSON returns the canonical serialisation. The empty policy is "{}".
func (p FilterPolicy) JSON() string {
	var w wirePolicy
	if p.Country != nil {
		w.CountryID = []string{strconv.Itoa(p.Country.CountryID)}
	}
	if p.Magnitude != nil {
		w.Magnitude = []numericRule{{Numeric: []any{">=", json.Number(FormatNumber(p.Magnitude.Min))}}}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		// Every field is a plain string or a number rendered by FormatNumber.
		panic(fmt.Sprintf("policy: encode filter policy: %v", err))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// String implements fmt.Stringer.
func (p FilterPolicy) String() string {
	return p.JSON()
}

// MarshalJSON implements json.Marshaler with the canonical form.
func (p FilterPolicy) MarshalJSON() ([]byte, error) {
	return []byte(p.JSON()), nil
}

// Parse reads a policy previously produced by JSON. Shapes this package never
// emits are rejected rather than guessed at.
func Parse(data string) (FilterPolicy, error) {
	var w struct {
		CountryID []string `json:"country_id"`
		Magnitude []struct {
			Numeric []any `json:"numeric"`
		} `json:"magnitude"`
	}

	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return FilterPolicy{}, fmt.Errorf("invalid filter policy: %w", err)
	}

	var p FilterPolicy
	switch len(w.CountryID) {
	case 0:
	case 1:
		id, err := strconv.Atoi(w.CountryID[0])
		if err != nil {
			return FilterPolicy{}, fmt.Errorf("invalid country_id %q in filter policy", w.CountryID[0])
		}
		p.Country = &CountryConstraint{CountryID: id}
	default:
		return FilterPolicy{}, fmt.Errorf("filter policy has %d country values, want 1", len(w.CountryID))
	}

	switch len(w.Magnitude) {
	case 0:
	case 1:
		rule := w.Magnitude[0].Numeric
		if len(rule) != 2 || rule[0] != ">=" {
			return FilterPolicy{}, fmt.Errorf("unsupported magnitude rule %v in filter policy", rule)
		}
		num, ok := rule[1].(json.Number)
		if !ok {
			return FilterPolicy{}, fmt.Errorf("magnitude threshold %v is not a number", rule[1])
		}
		threshold, err := num.Float64()
		if err != nil {
			return FilterPolicy{}, fmt.Errorf("invalid magnitude threshold %q: %w", num, err)
		}
		p.Magnitude = &MagnitudeConstraint{Min: threshold}
	default:
		return FilterPolicy{}, fmt.Errorf("filter policy has %d magnitude rules, want 1", len(w.Magnitude))
	}

	return p, nil
}

// FormatNumber renders f in shortest form with at least one fractional digit,
// matching how thresholds and magnitude attributes are written everywhere.
func FormatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
