// Package ferrors is the typed error taxonomy for the build engine. Every
// fatal condition the engine raises is one of the kinds declared in this
// package, each carrying an exit code and an actionable suggestion for the
// caller.
package ferrors

import "fmt"

// ForgeError is the base error type for every error the engine raises.
type ForgeError struct {
	Kind     string
	Message  string
	Context  *ErrorContext
	Cause    error
	ExitCode ExitCode
}

// Error implements the error interface.
func (e *ForgeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *ForgeError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-facing message including suggestions.
func (e *ForgeError) UserMessage() string {
	msg := fmt.Sprintf("ERROR: %s", e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf("\nCause: %v", e.Cause)
	}
	if e.Context != nil {
		msg += e.Context.Format()
	}
	return msg
}

// ErrorContext carries the structured, user-facing detail behind a
// ForgeError: what failed, why, and what to do about it.
type ErrorContext struct {
	Operation   string
	Component   string
	Details     map[string]any
	Suggestions []string
}

// Format renders the context as a human-readable block.
func (ec *ErrorContext) Format() string {
	if ec == nil {
		return ""
	}
	out := ""
	if ec.Operation != "" || ec.Component != "" {
		out += "\nWhat happened:\n"
		switch {
		case ec.Operation != "" && ec.Component != "":
			out += fmt.Sprintf("  %s failed in %s.\n", ec.Operation, ec.Component)
		case ec.Operation != "":
			out += fmt.Sprintf("  %s failed.\n", ec.Operation)
		default:
			out += fmt.Sprintf("  Failure in %s.\n", ec.Component)
		}
	}
	if len(ec.Details) > 0 {
		out += "\nDetails:\n"
		for k, v := range ec.Details {
			out += fmt.Sprintf("  - %s: %v\n", k, v)
		}
	}
	if len(ec.Suggestions) > 0 {
		out += "\nSuggestion:\n"
		for i, s := range ec.Suggestions {
			out += fmt.Sprintf("  %d. %s\n", i+1, s)
		}
	}
	return out
}
