// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "RU"

// unknownZone is what phonenumbers reports when a number has no geography.
const unknownZone = "Etc/Unknown"

func parse(input string) (*phonenumbers.PhoneNumber, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, false
	}
	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return nil, false
	}
	return number, true
}

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	number, ok := parse(input)
	if !ok {
		return strings.TrimSpace(input)
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

// IsValid reports whether input parses as a dialable number.
func IsValid(input string) bool {
	_, ok := parse(input)
	return ok
}

// TimeZone returns the first IANA zone the number belongs to, or "" when
// the number is invalid or not tied to a region.
func TimeZone(input string) string {
	number, ok := parse(input)
	if !ok {
		return ""
	}
	zones, err := phonenumbers.GetTimezonesForNumber(number)
	if err != nil || len(zones) == 0 || zones[0] == unknownZone {
		return ""
	}
	return zones[0]
}

// RegionCode returns the ISO region of a valid number, e.g. "DE".
func RegionCode(input string) string {
	number, ok := parse(input)
	if !ok {
		return ""
	}
	return phonenumbers.GetRegionCodeForNumber(number)
}
