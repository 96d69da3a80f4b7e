package dnr

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrUnsupported is returned by [Compiler.Compile] when a filter cannot be
	// expressed as declarative rules.
	ErrUnsupported errors.Error = "unsupported filter"

	// ErrInvalidRule is returned by [Validate] for malformed rules.
	ErrInvalidRule errors.Error = "invalid rule"

	// ErrTooManyRules is returned by [Engine.Update] when the update would
	// exceed the dynamic rule ceiling of the rule store.
	ErrTooManyRules errors.Error = "too many rules"
)

// UnsupportedOptionError is returned when a filter uses an option that has no
// declarative equivalent.
type UnsupportedOptionError struct {
	// Option is the name of the option.
	Option string

	// FilterText is the text of the filter.
	FilterText string
}

// type check
var _ error = (*UnsupportedOptionError)(nil)

// Error implements the error interface for *UnsupportedOptionError.
func (err *UnsupportedOptionError) Error() (msg string) {
	return fmt.Sprintf("filter %q: option %q: %s", err.FilterText, err.Option, ErrUnsupported)
}

// type check
var _ errors.Wrapper = (*UnsupportedOptionError)(nil)

// Unwrap implements the [errors.Wrapper] interface for *UnsupportedOptionError.
func (err *UnsupportedOptionError) Unwrap() (unwrapped error) {
	return ErrUnsupported
}

// UnsupportedRegexError is returned when the regular expression of a filter is
// not supported by the matching engine.
type UnsupportedRegexError struct {
	// Pattern is the regular expression.
	Pattern string

	// FilterText is the text of the filter.
	FilterText string
}

// type check
var _ error = (*UnsupportedRegexError)(nil)

// Error implements the error interface for *UnsupportedRegexError.
func (err *UnsupportedRegexError) Error() (msg string) {
	return fmt.Sprintf("filter %q: regexp %q: %s", err.FilterText, err.Pattern, ErrUnsupported)
}

// type check
var _ errors.Wrapper = (*UnsupportedRegexError)(nil)

// Unwrap implements the [errors.Wrapper] interface for *UnsupportedRegexError.
func (err *UnsupportedRegexError) Unwrap() (unwrapped error) {
	return ErrUnsupported
}

// InvalidRuleError is returned by [Validate] for a rule that fails a
// structural check.
type InvalidRuleError struct {
	// Reason describes the failed check.
	Reason string
}

// type check
var _ error = (*InvalidRuleError)(nil)

// Error implements the error interface for *InvalidRuleError.
func (err *InvalidRuleError) Error() (msg string) {
	return fmt.Sprintf("%s: %s", ErrInvalidRule, err.Reason)
}

// type check
var _ errors.Wrapper = (*InvalidRuleError)(nil)

// Unwrap implements the [errors.Wrapper] interface for *InvalidRuleError.
func (err *InvalidRuleError) Unwrap() (unwrapped error) {
	return ErrInvalidRule
}

// StoreError is returned by [Engine] when the rule store fails to apply an
// update.
type StoreError struct {
	Err error
}

// type check
var _ error = (*StoreError)(nil)

// Error implements the error interface for *StoreError.
func (err *StoreError) Error() (msg string) {
	return fmt.Sprintf("updating rule store: %s", err.Err)
}

// type check
var _ errors.Wrapper = (*StoreError)(nil)

// Unwrap implements the [errors.Wrapper] interface for *StoreError.
func (err *StoreError) Unwrap() (unwrapped error) {
	return err.Err
}
