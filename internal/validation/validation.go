package validation

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/cardvault/internal/types"
)

// Limits on request inputs.
const (
	MaxExternalIDLength = 64
	MaxSearchLength     = 200
	MaxPartitionLength  = 200
	MaxQuantity         = 1_000_000
)

// ValidationError is one rejected field of a request.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func fieldError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Collector gathers every failing field so a request is rejected once with
// the full list.
type Collector struct {
	errors []ValidationError
}

// Add records err; nil is ignored.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

func (c *Collector) HasErrors() bool { return len(c.errors) > 0 }

func (c *Collector) Errors() []ValidationError { return c.errors }

func ValidateUTF8(field, value string) *ValidationError {
	if utf8.ValidString(value) {
		return nil
	}
	return fieldError(field, "must be valid UTF-8")
}

func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.IndexByte(value, 0) < 0 {
		return nil
	}
	return fieldError(field, "must not contain null bytes")
}

// ValidateMaxLength counts runes, not bytes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) <= max {
		return nil
	}
	return fieldError(field, "exceeds maximum length of %d characters", max)
}

// ValidateRequired rejects empty and whitespace-only values.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return fieldError(field, "is required")
}

func ValidateEnum(field, value string, allowed []string) *ValidationError {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fieldError(field, "must be one of: %s", strings.Join(allowed, ", "))
}

// ValidateQuantity returns an error if value is outside [0, MaxQuantity].
func ValidateQuantity(field string, value int) *ValidationError {
	switch {
	case value < 0:
		return fieldError(field, "must not be negative")
	case value > MaxQuantity:
		return fieldError(field, "must be at most %d", MaxQuantity)
	}
	return nil
}

// ValidateText runs the checks shared by every free-text input.
func ValidateText(c *Collector, field, value string, max int) {
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, max))
}

// ValidateExternalID checks a catalog id taken from a request path.
func ValidateExternalID(c *Collector, value string) {
	if err := ValidateRequired("id", value); err != nil {
		c.Add(err)
		return
	}
	ValidateText(c, "id", value, MaxExternalIDLength)
}

// ValidateUpdateQuantities checks a quantity update body. Absent fields are
// allowed; they are read as zero.
func ValidateUpdateQuantities(c *Collector, req *types.UpdateQuantitiesRequest) {
	if req.Quantity != nil {
		c.Add(ValidateQuantity("quantity", *req.Quantity))
	}
	if req.FoilQuantity != nil {
		c.Add(ValidateQuantity("foil_quantity", *req.FoilQuantity))
	}
}

// ValidateListFilter checks the query parameters of a partition listing.
// Empty rarity and ownership mean no filter.
func ValidateListFilter(c *Collector, search, rarity, owned string) {
	ValidateText(c, "search", search, MaxSearchLength)
	if rarity != "" && !types.IsValidRarity(rarity) {
		c.Add(fieldError("rarity", "must be one of: common, uncommon, rare, mythic, other"))
	}
	if owned != "" {
		c.Add(ValidateEnum("owned", owned, []string{
			string(types.OwnershipAll), string(types.OwnershipOwned), string(types.OwnershipMissing),
		}))
	}
}
