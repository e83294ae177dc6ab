package sms

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

// ValidatePhoneNumber enforces E.164 format.
func ValidatePhoneNumber(number string) error {
	if !phonePattern.MatchString(number) {
		return fmt.Errorf("phone number %q is not E.164", number)
	}
	return nil
}

// ValidateContent enforces the single-message content limits.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message content is empty")
	}
	if len([]rune(content)) > MaxContentLength {
		return fmt.Errorf("message content exceeds %d characters", MaxContentLength)
	}
	if parts := CalculateParts(content); parts > MaxContentParts {
		return fmt.Errorf("message content spans %d parts, limit is %d", parts, MaxContentParts)
	}
	return nil
}

// ParseAppointment parses an ISO-8601 appointment time and requires it to be
// strictly in the future relative to now.
func ParseAppointment(value string, now time.Time) (time.Time, error) {
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("appointment time %q is not ISO-8601: %w", value, err)
	}
	if !at.After(now) {
		return time.Time{}, fmt.Errorf("appointment time must be in the future")
	}
	return at, nil
}

// ScheduleFor derives the earliest send time for an appointment: 24 hours
// ahead of it, clamped so it never precedes creation time.
func ScheduleFor(appointment, createdAt time.Time) time.Time {
	at := appointment.Add(-24 * time.Hour)
	if at.Before(createdAt) {
		return createdAt
	}
	return at
}

// NormalizeMaxRetries applies the default and the allowed 0-10 range.
func NormalizeMaxRetries(v *int) (int, error) {
	if v == nil {
		return DefaultMaxRetries, nil
	}
	if *v < 0 || *v > MaxRetriesCeiling {
		return 0, fmt.Errorf("maxRetries %d outside allowed range 0-%d", *v, MaxRetriesCeiling)
	}
	return *v, nil
}
