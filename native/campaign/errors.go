package campaign

import (
	"errors"
	"fmt"
)

// The campaign module classifies every failure into one of five kinds so the
// RPC and gateway layers can map them onto stable client-facing codes. Wrap
// with %w so errors.Is keeps working through the stack.
var (
	// ErrValidation covers malformed or missing arguments.
	ErrValidation = errors.New("campaign: invalid argument")
	// ErrPreconditionFailed covers wrong time window, wrong success state and
	// missing or mismatched atomic transfer evidence.
	ErrPreconditionFailed = errors.New("campaign: precondition failed")
	// ErrNotEligible covers claims attempted without a qualifying, unclaimed
	// contribution record.
	ErrNotEligible = errors.New("campaign: not eligible")
	// ErrTimeout covers confirmation polling that exhausted its round budget.
	ErrTimeout = errors.New("campaign: timeout")
	// ErrOverflow covers amounts or intermediate products exceeding the safe
	// integer range.
	ErrOverflow = errors.New("campaign: arithmetic overflow")

	errNilState        = errors.New("campaign engine: state not configured")
	errCampaignMissing = errors.New("campaign engine: campaign not found")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func preconditionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, fmt.Sprintf(format, args...))
}

func notEligiblef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotEligible, fmt.Sprintf(format, args...))
}

func overflowf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrOverflow, fmt.Sprintf(format, args...))
}
