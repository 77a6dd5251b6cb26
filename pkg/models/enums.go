package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusApplied   LoanStatus = "APPLIED"
	LoanStatusApproved  LoanStatus = "APPROVED"
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusClosed    LoanStatus = "CLOSED"
	LoanStatusDefaulted LoanStatus = "DEFAULTED"
)

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// CLOSED and DEFAULTED are terminal.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	switch s {
	case LoanStatusApplied:
		return next == LoanStatusApproved
	case LoanStatusApproved:
		return next == LoanStatusActive
	case LoanStatusActive:
		return next == LoanStatusClosed || next == LoanStatusDefaulted
	case LoanStatusClosed, LoanStatusDefaulted:
		return false
	default:
		return false
	}
}

func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusApplied, LoanStatusApproved, LoanStatusActive, LoanStatusClosed, LoanStatusDefaulted:
		return true
	default:
		return false
	}
}

type RepaymentFrequency string

const (
	FrequencyWeekly       RepaymentFrequency = "WEEKLY"
	FrequencyBiWeekly     RepaymentFrequency = "BI_WEEKLY"
	FrequencyMonthly      RepaymentFrequency = "MONTHLY"
	FrequencyQuarterly    RepaymentFrequency = "QUARTERLY"
	FrequencySemiAnnually RepaymentFrequency = "SEMI_ANNUALLY"
	FrequencyAnnually     RepaymentFrequency = "ANNUALLY"
)

// Advance moves t forward by one repayment period. Unknown frequencies are
// treated as monthly.
func (f RepaymentFrequency) Advance(t time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyBiWeekly:
		return t.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case FrequencyQuarterly:
		return t.AddDate(0, 3, 0)
	case FrequencySemiAnnually:
		return t.AddDate(0, 6, 0)
	case FrequencyAnnually:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

func (f RepaymentFrequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly, FrequencyQuarterly,
		FrequencySemiAnnually, FrequencyAnnually:
		return true
	default:
		return false
	}
}

type IslamicStructure string

const (
	StructureNone                  IslamicStructure = ""
	StructureMurabaha              IslamicStructure = "MURABAHA"
	StructureIjarah                IslamicStructure = "IJARAH"
	StructureMusharakah            IslamicStructure = "MUSHARAKAH"
	StructureDiminishingMusharakah IslamicStructure = "DIMINISHING_MUSHARAKAH"
	StructureTawarruq              IslamicStructure = "TAWARRUQ"
)

// Valid accepts StructureNone, the tag of conventional products.
func (s IslamicStructure) Valid() bool {
	switch s {
	case StructureNone, StructureMurabaha, StructureIjarah, StructureMusharakah,
		StructureDiminishingMusharakah, StructureTawarruq:
		return true
	default:
		return false
	}
}

type RiskRating string

const (
	RiskStandard    RiskRating = "STANDARD"
	RiskSubstandard RiskRating = "SUBSTANDARD"
	RiskDoubtful    RiskRating = "DOUBTFUL"
	RiskLoss        RiskRating = "LOSS"
)

func (r RiskRating) Valid() bool {
	switch r {
	case RiskStandard, RiskSubstandard, RiskDoubtful, RiskLoss:
		return true
	default:
		return false
	}
}

// Classification is the regulatory asset classification.
type Classification string

const (
	ClassificationStandard       Classification = "STANDARD"
	ClassificationSpecialMention Classification = "SPECIAL_MENTION"
	ClassificationSubstandard    Classification = "SUBSTANDARD"
	ClassificationDoubtful       Classification = "DOUBTFUL"
	ClassificationLoss           Classification = "LOSS"
)

func (c Classification) Valid() bool {
	switch c {
	case ClassificationStandard, ClassificationSpecialMention, ClassificationSubstandard,
		ClassificationDoubtful, ClassificationLoss:
		return true
	default:
		return false
	}
}

// ProvisioningStage is the impairment stage (1 performing, 2 under watch, 3 impaired).
type ProvisioningStage int

const (
	StagePerforming ProvisioningStage = 1
	StageUnderWatch ProvisioningStage = 2
	StageCreditLoss ProvisioningStage = 3
)

func (s ProvisioningStage) Valid() bool {
	return s >= StagePerforming && s <= StageCreditLoss
}

type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusOverdue PaymentStatus = "OVERDUE"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusPartial, PaymentStatusOverdue:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodMobileWallet PaymentMethod = "MOBILE_WALLET"
	PaymentMethodDirectDebit  PaymentMethod = "DIRECT_DEBIT"
	PaymentMethodCheque       PaymentMethod = "CHEQUE"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCard,
		PaymentMethodMobileWallet, PaymentMethodDirectDebit, PaymentMethodCheque:
		return true
	default:
		return false
	}
}

// Percent is a small helper for rate literals such as Percent(5) == 0.05.
func Percent(p int64) decimal.Decimal {
	return decimal.New(p, -2)
}
