package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/questlog/questlog/internal/models"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Register custom validators for enums
	// These should never fail in normal operation, but log if they do
	if err := Validate.RegisterValidation("priority", validatePriority); err != nil {
		panic(fmt.Sprintf("failed to register priority validator: %v", err))
	}
	if err := Validate.RegisterValidation("repeat_rule", validateRepeatRule); err != nil {
		panic(fmt.Sprintf("failed to register repeat_rule validator: %v", err))
	}
}

// validatePriority validates that a string is a valid Priority enum value
func validatePriority(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	switch models.Priority(value) {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		return true
	default:
		return false
	}
}

// validateRepeatRule validates that a string is a valid RepeatRule enum value
func validateRepeatRule(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	switch models.RepeatRule(value) {
	case models.RepeatNone, models.RepeatDaily, models.RepeatWeekly, models.RepeatMonthly:
		return true
	default:
		return false
	}
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	// Trim whitespace
	text = strings.TrimSpace(text)

	// Remove control characters except newline and tab
	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidatePriority validates a Priority string value
func ValidatePriority(value string) error {
	switch models.Priority(value) {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		return nil
	default:
		return fmt.Errorf("invalid priority: %s (must be 'low', 'medium', or 'high')", value)
	}
}

// ValidateRepeatRule validates a RepeatRule string value
func ValidateRepeatRule(value string) error {
	switch models.RepeatRule(value) {
	case models.RepeatNone, models.RepeatDaily, models.RepeatWeekly, models.RepeatMonthly:
		return nil
	default:
		return fmt.Errorf("invalid repeat rule: %s (must be 'none', 'daily', 'weekly', or 'monthly')", value)
	}
}
