// Package usage provides formatting helpers for the trailer a run's CLI
// host prints after a completed task: elapsed wall time, estimated LLM
// cost, and step-budget consumption.
package usage

import (
	"fmt"
	"math"
)

// FormatUSD formats a dollar amount for display, rounding to cents above a
// cent and to four decimal places below it so a sub-cent estimate doesn't
// print as "$0.00". A non-positive or non-finite amount has nothing worth
// reporting.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatPercentage formats a percentage value.
func FormatPercentage(value float64) string {
	if value < 1 {
		return fmt.Sprintf("%.2f%%", value)
	}
	if value < 10 {
		return fmt.Sprintf("%.1f%%", value)
	}
	return fmt.Sprintf("%.0f%%", value)
}

// FormatDurationMs formats a duration in milliseconds.
func FormatDurationMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	if ms < 3600000 {
		return fmt.Sprintf("%.1fm", float64(ms)/60000)
	}
	return fmt.Sprintf("%.1fh", float64(ms)/3600000)
}
