// Package errmsg provides consistent error formatting for user-facing messages.
package errmsg

import "fmt"

// Op represents an operation that can fail.
type Op string

// Operation constants - grouped by domain.
const (
	// Startup operations
	OpLoadConfig Op = "load configuration"
	OpOpenStore  Op = "open scrobble database"
	OpStartWatch Op = "watch media sessions"

	// Authentication operations
	OpAuthLastfm Op = "authorize with Last.fm"
	OpSaveAuth   Op = "save Last.fm session"

	// App decision operations
	OpAllowApp  Op = "allow app"
	OpIgnoreApp Op = "ignore app"

	// Delivery operations
	OpEnqueue Op = "queue scrobble"
	OpDeliver Op = "deliver scrobble"
)

// Format creates a user-friendly error message.
func Format(op Op, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to %s: %v", op, err)
}

// FormatWith creates an error message with additional context.
func FormatWith(op Op, context string, err error) string {
	if err == nil {
		return ""
	}
	if context == "" {
		return Format(op, err)
	}
	return fmt.Sprintf("Failed to %s '%s': %v", op, context, err)
}
