// Package guard holds pure eligibility checks used by the billing jobs.
package guard

import (
	"errors"
	"time"
)

var (
	ErrCycleNotElapsed = errors.New("billing_cycle_not_elapsed")
	ErrNoReference     = errors.New("billing_reference_missing")
)

// CycleLength is the billing cycle policy. Days is a fixed-length
// approximation of a calendar month, not a true month boundary; billing
// runs whenever at least one whole cycle has elapsed since the reference
// date. Swapping this for calendar-month logic only requires replacing
// Elapsed.
type CycleLength struct {
	Days int
}

func (c CycleLength) Duration() time.Duration {
	return time.Duration(c.Days) * 24 * time.Hour
}

// Elapsed reports how many whole cycles have passed since reference.
func (c CycleLength) Elapsed(reference, now time.Time) int {
	if c.Days <= 0 || !now.After(reference) {
		return 0
	}
	return int(now.Sub(reference) / c.Duration())
}

// EnsurePartnerEligibleForInvoice passes when at least one whole billing
// cycle has elapsed since the partner's reference date.
func EnsurePartnerEligibleForInvoice(reference, now time.Time, cycle CycleLength) error {
	if reference.IsZero() {
		return ErrNoReference
	}
	if cycle.Elapsed(reference, now) < 1 {
		return ErrCycleNotElapsed
	}
	return nil
}
