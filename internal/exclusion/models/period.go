package models

import (
	dErrors "nser/pkg/domain-errors"
)

// Period is the requested length of a self-exclusion.
type Period string

const (
	Period6Months   Period = "6_months"
	Period1Year     Period = "1_year"
	Period2Years    Period = "2_years"
	Period5Years    Period = "5_years"
	PeriodPermanent Period = "permanent"
	PeriodCustom    Period = "custom"
)

const (
	MinCustomDays = 1
	MaxCustomDays = 3650
)

// permanent exclusions run as five-year windows that renew automatically.
var periodDays = map[Period]int{
	Period6Months:   180,
	Period1Year:     365,
	Period2Years:    730,
	Period5Years:    1825,
	PeriodPermanent: 1825,
}

func (p Period) IsValid() bool {
	if p == PeriodCustom {
		return true
	}
	_, ok := periodDays[p]
	return ok
}

func (p Period) IsPermanent() bool {
	return p == PeriodPermanent
}

// Days returns the window length. customDays is only read for PeriodCustom.
func (p Period) Days(customDays int) (int, error) {
	if p == PeriodCustom {
		if customDays < MinCustomDays || customDays > MaxCustomDays {
			return 0, dErrors.New(dErrors.CodeValidation, "custom period must be between 1 and 3650 days")
		}
		return customDays, nil
	}
	days, ok := periodDays[p]
	if !ok {
		return 0, dErrors.New(dErrors.CodeValidation, "unknown exclusion period")
	}
	return days, nil
}
