// README: Common value objects used across modules (money in paise, ids, business day keys).
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type ID string

// Money is an amount in paise, the smallest INR unit accepted by the payment gateway.
type Money int64

const Currency = "INR"

func (m Money) Rupees() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String renders the amount as rupees with two decimals, e.g. "249.50".
func (m Money) String() string {
	return m.Rupees().StringFixed(2)
}

func MoneyFromRupees(v string) (Money, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, err
	}
	return Money(d.Shift(2).Round(0).IntPart()), nil
}

const DayLayout = "2006-01-02"

// DayKey is the calendar date of t in the business time zone.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}
