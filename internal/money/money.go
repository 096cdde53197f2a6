package money

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// minorUnits is the gateway conversion factor (cents/paise per unit).
const minorUnits = 100

// Amount is an exact currency amount in major units (e.g. rupees, dollars).
// It is stored in DynamoDB as a number and rendered in JSON as a bare number.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{d: decimal.Zero}

// New returns an Amount of whole units.
func New(units int64) Amount {
	return Amount{d: decimal.NewFromInt(units)}
}

// FromMinor converts minor units (cents/paise) back to an Amount.
func FromMinor(minor int64) Amount {
	return Amount{d: decimal.New(minor, -2)}
}

// Parse parses a decimal string such as "199.99".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

// Times multiplies by a quantity.
func (a Amount) Times(qty int) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromInt(int64(qty)))}
}

func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }

func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

func (a Amount) IsZero() bool { return a.d.IsZero() }

func (a Amount) IsNegative() bool { return a.d.IsNegative() }

func (a Amount) IsPositive() bool { return a.d.IsPositive() }

// Minor returns the amount in minor units, rounded half away from zero.
func (a Amount) Minor() int64 {
	return a.d.Mul(decimal.NewFromInt(minorUnits)).Round(0).IntPart()
}

func (a Amount) String() string { return a.d.String() }

// Float64 is for reporting only; arithmetic stays in decimal.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.d.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		a.d = decimal.Zero
		return nil
	}
	// decimal accepts both quoted and bare numbers
	return a.d.UnmarshalJSON(b)
}

// MarshalDynamoDBAttributeValue stores the amount as an N attribute.
func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.d.String()}, nil
}

func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		d, err := decimal.NewFromString(v.Value)
		if err != nil {
			return fmt.Errorf("unmarshal amount: %w", err)
		}
		a.d = d
		return nil
	case *types.AttributeValueMemberS:
		d, err := decimal.NewFromString(v.Value)
		if err != nil {
			return fmt.Errorf("unmarshal amount: %w", err)
		}
		a.d = d
		return nil
	case *types.AttributeValueMemberNULL:
		a.d = decimal.Zero
		return nil
	default:
		return fmt.Errorf("unmarshal amount: unsupported attribute type %T", av)
	}
}
