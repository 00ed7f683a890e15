package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// CostBasis is a USD amount that is either known or explicitly unknown.
// Unknown is never the same thing as zero: it means no price could be
// attributed to the acquisition.
type CostBasis struct {
	amount decimal.Decimal
	known  bool
}

// Known returns a cost basis with the given amount
func Known(amount decimal.Decimal) CostBasis {
	return CostBasis{amount: amount, known: true}
}

// Unknown returns a cost basis with no attributable amount
func Unknown() CostBasis {
	return CostBasis{}
}

// IsKnown reports whether an amount is attached
func (c CostBasis) IsKnown() bool {
	return c.known
}

// Amount returns the amount and whether it is known
func (c CostBasis) Amount() (decimal.Decimal, bool) {
	return c.amount, c.known
}

// OrZero returns the amount, or zero when unknown
func (c CostBasis) OrZero() decimal.Decimal {
	if !c.known {
		return decimal.Zero
	}
	return c.amount
}

// Equal compares two cost bases, unknown only equals unknown
func (c CostBasis) Equal(o CostBasis) bool {
	if c.known != o.known {
		return false
	}
	return !c.known || c.amount.Equal(o.amount)
}

func (c CostBasis) String() string {
	if !c.known {
		return "unknown"
	}
	return c.amount.String()
}

// Value stores unknown as NULL
func (c CostBasis) Value() (driver.Value, error) {
	if !c.known {
		return nil, nil
	}
	return c.amount.String(), nil
}

// Scan reads a nullable numeric column
func (c *CostBasis) Scan(value interface{}) error {
	if value == nil {
		*c = Unknown()
		return nil
	}

	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("failed to scan cost basis: %w", err)
	}
	*c = Known(d)
	return nil
}

// MarshalJSON writes unknown as null and a known amount as a decimal string
func (c CostBasis) MarshalJSON() ([]byte, error) {
	if !c.known {
		return []byte("null"), nil
	}
	return json.Marshal(c.amount)
}

// UnmarshalJSON reads the form written by MarshalJSON
func (c *CostBasis) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Unknown()
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("failed to decode cost basis: %w", err)
	}
	*c = Known(d)
	return nil
}

// GormDataType keeps the column numeric regardless of dialect
func (CostBasis) GormDataType() string {
	return "numeric"
}
