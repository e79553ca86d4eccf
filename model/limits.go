package model

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// MaxTagLength is the longest name, in characters, accepted for zones,
	// members and accounts.
	MaxTagLength = 160
	// MaxMetadataSize is the largest encoded metadata object, in bytes.
	MaxMetadataSize = 1024
	// MaxValueDigits is the number of significant digits shared with the
	// server's decimal context.
	MaxValueDigits = 34
	// MaxValueScale is the number of fractional digits a value may carry.
	MaxValueScale = 2
)

// ValidationError reports a value rejected before it reaches the server.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateTag checks a zone, member or account name.
func ValidateTag(field, tag string) error {
	if n := utf8.RuneCountInString(tag); n > MaxTagLength {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("length %d exceeds %d", n, MaxTagLength)}
	}
	return nil
}

// ValidateMetadata checks the encoded size of a metadata object.
func ValidateMetadata(field string, metadata Metadata) error {
	if metadata == nil {
		return nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return &ValidationError{Field: field, Reason: err.Error()}
	}
	if len(encoded) > MaxMetadataSize {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("size %d exceeds %d bytes", len(encoded), MaxMetadataSize)}
	}
	return nil
}

// ValidateValue checks that a transfer value is non-negative and fits the
// shared decimal precision.
func ValidateValue(value decimal.Decimal) error {
	if value.IsNegative() {
		return &ValidationError{Field: "value", Reason: "must not be negative"}
	}
	if -value.Exponent() > MaxValueScale && !value.Equal(value.Round(MaxValueScale)) {
		return &ValidationError{Field: "value", Reason: fmt.Sprintf("more than %d fractional digits", MaxValueScale)}
	}
	if digits := value.Round(MaxValueScale).Coefficient().String(); len(digits) > MaxValueDigits {
		return &ValidationError{Field: "value", Reason: fmt.Sprintf("more than %d significant digits", MaxValueDigits)}
	}
	return nil
}

// ValidateMember checks a member's name and metadata.
func ValidateMember(m Member) error {
	if err := ValidateTag("member name", m.Name); err != nil {
		return err
	}
	return ValidateMetadata("member metadata", m.Metadata)
}

// ValidateAccount checks an account's name and metadata.
func ValidateAccount(a Account) error {
	if err := ValidateTag("account name", a.Name); err != nil {
		return err
	}
	return ValidateMetadata("account metadata", a.Metadata)
}
