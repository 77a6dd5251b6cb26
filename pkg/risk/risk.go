// Package risk derives a loan's risk rating, regulatory classification and
// provision from its worst current delinquency. Everything here is pure: the
// same repayment history and as-of date always produce the same assessment.
package risk

import (
	"time"

	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/shopspring/decimal"
)

// Upper bounds (inclusive) of each delinquency bucket, in days past due.
const (
	SpecialMentionMaxDays = 30
	SubstandardMaxDays    = 90
	DoubtfulMaxDays       = 180
)

// Tier is one row of the classification table. Rating, classification, stage
// and rate always move together.
type Tier struct {
	RiskRating     models.RiskRating
	Classification models.Classification
	Stage          models.ProvisioningStage
	ProvisionRate  decimal.Decimal
}

var (
	tierStandard = Tier{models.RiskStandard, models.ClassificationStandard, models.StagePerforming, models.Percent(1)}
	tierWatch    = Tier{models.RiskStandard, models.ClassificationSpecialMention, models.StageUnderWatch, models.Percent(5)}
	tierSub      = Tier{models.RiskSubstandard, models.ClassificationSubstandard, models.StageCreditLoss, models.Percent(20)}
	tierDoubtful = Tier{models.RiskDoubtful, models.ClassificationDoubtful, models.StageCreditLoss, models.Percent(50)}
	tierLoss     = Tier{models.RiskLoss, models.ClassificationLoss, models.StageCreditLoss, models.Percent(100)}
)

// Input is the loan history an assessment is computed from.
type Input struct {
	Repayments   []models.Repayment
	Installments []models.Installment
	AsOf         time.Time
}

// Assessment is written back onto the loan.
type Assessment struct {
	Tier
	MaxDaysPastDue  int
	ProvisionAmount decimal.Decimal
}

// Lowest returns the tier a new loan starts at.
func Lowest() Tier {
	return tierStandard
}

// Classify maps days past due onto the classification table.
func Classify(maxDaysPastDue int) Tier {
	switch {
	case maxDaysPastDue <= 0:
		return tierStandard
	case maxDaysPastDue <= SpecialMentionMaxDays:
		return tierWatch
	case maxDaysPastDue <= SubstandardMaxDays:
		return tierSub
	case maxDaysPastDue <= DoubtfulMaxDays:
		return tierDoubtful
	default:
		return tierLoss
	}
}

// MaxDaysPastDue returns the worst delinquency in the history.
//
// A repayment counts when it is flagged OVERDUE with positive days overdue
// and its installment is still open. An unpaid installment whose due date is
// before AsOf counts with the days elapsed since it fell due. When no
// installments are supplied every OVERDUE repayment counts.
func MaxDaysPastDue(in Input) int {
	open := make(map[int]bool, len(in.Installments))
	for _, inst := range in.Installments {
		if !inst.Paid {
			open[inst.Number] = true
		}
	}

	maxDays := 0
	for _, r := range in.Repayments {
		if r.Status != models.PaymentStatusOverdue || r.DaysOverdue <= 0 {
			continue
		}
		if len(in.Installments) > 0 && !open[r.InstallmentNumber] {
			continue
		}
		if r.DaysOverdue > maxDays {
			maxDays = r.DaysOverdue
		}
	}

	if !in.AsOf.IsZero() {
		for _, inst := range in.Installments {
			if inst.Paid {
				continue
			}
			if days := DaysBetween(inst.DueDate, in.AsOf); days > maxDays {
				maxDays = days
			}
		}
	}
	return maxDays
}

// Assess classifies the history and sizes the provision against the
// outstanding principal.
func Assess(in Input, outstandingPrincipal decimal.Decimal) Assessment {
	days := MaxDaysPastDue(in)
	tier := Classify(days)
	return Assessment{
		Tier:            tier,
		MaxDaysPastDue:  days,
		ProvisionAmount: outstandingPrincipal.Mul(tier.ProvisionRate).Round(2),
	}
}

// DaysBetween counts whole calendar days from -> to in UTC. It is negative
// when to precedes from.
func DaysBetween(from, to time.Time) int {
	f := truncateDay(from)
	t := truncateDay(to)
	return int(t.Sub(f).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
