/*
calculator.go - Expected insurer reimbursement for a leave case

RULES:
  Work accident (ARL):     100% of the daily base from day 1.
  Everything else (EPS):   tiered co-payment schedule
    days 1-2     employer pays, insurer owes 0
    days 3-90    66.67% of the daily base
    days 91-180  50% of the daily base
    days > 180   pension fund, out of scope (0)

  Traffic accident, maternity and paternity leaves currently follow the
  general schedule. The final sum (not each day) is rounded half-up to
  cents. Work accidents are not rounded: IBC*days/30 is the exact amount.

SEE ALSO:
  - engine.go: Uses ExpectedForCase during reconciliation
*/
package incapacity

import "github.com/shopspring/decimal"

var daysPerMonth = decimal.NewFromInt(30)

// moneyPlaces is the rounding precision for all reimbursement amounts.
const moneyPlaces = 2

// tier is a contiguous range of leave days reimbursed at the same rate.
type tier struct {
	from, to int // inclusive, 1-based
	rate     decimal.Decimal
}

var generalSchedule = []tier{
	{from: 1, to: 2, rate: decimal.Zero},
	{from: 3, to: 90, rate: decimal.RequireFromString("0.6667")},
	{from: 91, to: 180, rate: decimal.RequireFromString("0.5")},
}

// daysIn returns how many of the first totalDays fall inside the tier.
func (t tier) daysIn(totalDays int) int {
	last := t.to
	if totalDays < last {
		last = totalDays
	}
	if last < t.from {
		return 0
	}
	return last - t.from + 1
}

// weightedDays returns the sum of rate*days over the schedule for a leave
// of totalDays. Multiplying it by the daily base gives the expected amount.
func weightedDays(totalDays int) decimal.Decimal {
	total := decimal.Zero
	for _, t := range generalSchedule {
		if n := t.daysIn(totalDays); n > 0 {
			total = total.Add(t.rate.Mul(decimal.NewFromInt(int64(n))))
		}
	}
	return total
}

// ComputeExpected returns what the insurer is expected to pay for a leave of
// totalDays at the given daily base value.
//
// Work accidents pay dailyBase*days unrounded. The general schedule is
// rounded half-up to cents once, on the final sum.
func ComputeExpected(caseType CaseType, totalDays int, dailyBase decimal.Decimal) (decimal.Decimal, error) {
	if totalDays < 0 {
		return decimal.Zero, &ValidationError{Field: "days", Message: "must not be negative"}
	}
	if dailyBase.IsNegative() {
		return decimal.Zero, &ValidationError{Field: "daily_base", Message: "must not be negative"}
	}

	if caseType == TypeWorkAccident {
		return dailyBase.Mul(decimal.NewFromInt(int64(totalDays))), nil
	}
	return dailyBase.Mul(weightedDays(totalDays)).Round(moneyPlaces), nil
}

// ExpectedForCase computes the expected reimbursement from the case's
// monthly IBC.
//
// Both paths multiply before dividing by 30, so a non-terminating IBC/30
// quotient never feeds into the result. Work accidents stay unrounded;
// coveredBy compares them exactly.
func ExpectedForCase(c LeaveCase) (decimal.Decimal, error) {
	if c.IBC.IsNegative() {
		return decimal.Zero, &ValidationError{Field: "ibc", Message: "must not be negative"}
	}
	if c.Days < 0 {
		return decimal.Zero, &ValidationError{Field: "days", Message: "must not be negative"}
	}
	if c.Type == TypeWorkAccident {
		return c.IBC.Mul(decimal.NewFromInt(int64(c.Days))).Div(daysPerMonth), nil
	}
	return c.IBC.Mul(weightedDays(c.Days)).DivRound(daysPerMonth, moneyPlaces), nil
}

// coveredBy reports whether paid meets the expected reimbursement of c.
// Work accidents compare paid*30 against IBC*days so the comparison does
// not depend on how many digits IBC/30 was carried to.
func coveredBy(c LeaveCase, expected, paid decimal.Decimal) bool {
	if c.Type == TypeWorkAccident {
		return paid.Mul(daysPerMonth).GreaterThanOrEqual(c.IBC.Mul(decimal.NewFromInt(int64(c.Days))))
	}
	return paid.GreaterThanOrEqual(expected)
}
