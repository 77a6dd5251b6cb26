// Package amortization computes fixed periodic payments and the
// installment-by-installment breakdown of a loan.
//
// Conventional loans use the annuity formula
//
//	payment = P * r * (1+r)^n / ((1+r)^n - 1),  r = annualRate / 12 / 100
//
// Sharia-compliant loans pay an equal installment covering principal plus a
// flat total profit. Each installment's profit share is taken from the
// declining opening balance at the periodic rate that retires the principal
// in exactly termMonths equal installments.
package amortization

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// moneyPlaces is the number of decimal places money is rounded to.
const moneyPlaces = 2

// factorPlaces bounds the scale of (1+r)^n while it is being built up.
const factorPlaces = 24

// rateIterations is the number of bisection steps used by ImpliedRate.
const rateIterations = 64

var (
	ErrInvalidTerms = errors.New("invalid amortization terms")

	one          = decimal.NewFromInt(1)
	two          = decimal.NewFromInt(2)
	monthsInYear = decimal.NewFromInt(12)
	hundred      = decimal.NewFromInt(100)
)

// Terms describes the loan a schedule is generated for.
type Terms struct {
	Principal       decimal.Decimal
	AnnualRate      decimal.Decimal // Interest or profit rate, in percent
	TermMonths      int
	ShariaCompliant bool
	StartDate       time.Time // Installment i is due StartDate + i months
}

// Line is one computed installment.
type Line struct {
	Number         int
	DueDate        time.Time
	OpeningBalance decimal.Decimal
	Interest       decimal.Decimal
	Principal      decimal.Decimal
	Payment        decimal.Decimal
	ClosingBalance decimal.Decimal
}

// Schedule is the generated plan together with the periodic payment it was
// built from.
type Schedule struct {
	Payment decimal.Decimal
	Lines   []Line
}

// Totals sums the principal, interest and payment columns.
func (s Schedule) Totals() (principal, interest, payment decimal.Decimal) {
	for _, l := range s.Lines {
		principal = principal.Add(l.Principal)
		interest = interest.Add(l.Interest)
		payment = payment.Add(l.Payment)
	}
	return principal, interest, payment
}

// MonthlyRate converts an annual percentage rate to a monthly fraction.
func MonthlyRate(annualRate decimal.Decimal) decimal.Decimal {
	return annualRate.Div(monthsInYear).Div(hundred)
}

// Payment returns the fixed annuity payment, rounded half-up to cents.
func Payment(principal, annualRate decimal.Decimal, numPayments int) decimal.Decimal {
	if numPayments <= 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(numPayments))
	r := MonthlyRate(annualRate)
	if r.IsZero() {
		return principal.Div(n).Round(moneyPlaces)
	}

	return annuity(principal, r, numPayments).Round(moneyPlaces)
}

// annuity is the unrounded level payment for a periodic rate r > 0.
func annuity(principal, r decimal.Decimal, n int) decimal.Decimal {
	factor := compound(one.Add(r), n)
	return principal.Mul(r).Mul(factor).Div(factor.Sub(one))
}

// IslamicPayment returns the equal installment of a flat-profit loan.
func IslamicPayment(principal, profitRate decimal.Decimal, termMonths int) decimal.Decimal {
	if termMonths <= 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(termMonths))
	totalProfit := TotalProfit(principal, profitRate, termMonths)
	return principal.Add(totalProfit).Div(n).Round(moneyPlaces)
}

// TotalProfit is the flat profit charged over the life of an Islamic loan.
func TotalProfit(principal, profitRate decimal.Decimal, termMonths int) decimal.Decimal {
	return principal.Mul(profitRate).Mul(decimal.NewFromInt(int64(termMonths))).Div(monthsInYear).Div(hundred)
}

// ImpliedRate returns the periodic rate at which n level payments of payment
// repay principal. It is zero when the payments do not exceed the principal.
func ImpliedRate(principal, payment decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 || payment.Mul(decimal.NewFromInt(int64(n))).LessThanOrEqual(principal) {
		return decimal.Zero
	}
	// At payment/principal the interest alone consumes the payment.
	lo, hi := decimal.Zero, payment.Div(principal)
	for i := 0; i < rateIterations; i++ {
		mid := lo.Add(hi).Div(two).Round(factorPlaces)
		if annuity(principal, mid, n).GreaterThan(payment) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo.Add(hi).Div(two).Round(factorPlaces)
}

// Generate builds the full schedule. The final installment takes whatever
// opening balance remains as principal, so principal always sums to
// t.Principal exactly and the last closing balance is zero.
func Generate(t Terms) (Schedule, error) {
	if t.TermMonths <= 0 || !t.Principal.IsPositive() || t.AnnualRate.IsNegative() {
		return Schedule{}, fmt.Errorf("%w: principal %s, rate %s, term %d", ErrInvalidTerms, t.Principal, t.AnnualRate, t.TermMonths)
	}

	var payment, periodRate decimal.Decimal
	switch {
	case t.ShariaCompliant:
		payment = IslamicPayment(t.Principal, t.AnnualRate, t.TermMonths)
		if t.AnnualRate.IsPositive() {
			periodRate = ImpliedRate(t.Principal, payment, t.TermMonths)
		}
	default:
		payment = Payment(t.Principal, t.AnnualRate, t.TermMonths)
		periodRate = MonthlyRate(t.AnnualRate)
	}

	lines := make([]Line, 0, t.TermMonths)
	opening := t.Principal
	for i := 1; i <= t.TermMonths; i++ {
		interest := opening.Mul(periodRate).Round(moneyPlaces)

		var principal decimal.Decimal
		if i == t.TermMonths {
			principal = opening
		} else {
			principal = decimal.Min(payment.Sub(interest), opening)
		}
		closing := opening.Sub(principal)

		lines = append(lines, Line{
			Number:         i,
			DueDate:        t.StartDate.AddDate(0, i, 0),
			OpeningBalance: opening,
			Interest:       interest,
			Principal:      principal,
			Payment:        principal.Add(interest),
			ClosingBalance: closing,
		})
		opening = closing
	}

	return Schedule{Payment: payment, Lines: lines}, nil
}

// compound returns base^n. The running product is rounded to factorPlaces
// so long terms do not grow unbounded in scale.
func compound(base decimal.Decimal, n int) decimal.Decimal {
	result := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		result = result.Mul(base).Round(factorPlaces)
	}
	return result
}
