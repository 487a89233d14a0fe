package resource

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
)

// DecimalPlaces is the fixed precision of every Decimal.
const DecimalPlaces = 18

var (
	decimalOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalPlaces), nil)
	bigTen     = big.NewInt(10)
)

// Decimal is a signed fixed-point number with 18 fractional digits. The zero
// value is zero. Values are immutable; every operation returns a new Decimal.
type Decimal struct {
	attos *big.Int
}

// NewDecimal converts a whole number.
func NewDecimal(v int64) Decimal {
	return Decimal{attos: new(big.Int).Mul(big.NewInt(v), decimalOne)}
}

// DecimalFromAttos wraps a raw count of 10^-18 units.
func DecimalFromAttos(attos *big.Int) Decimal {
	if attos == nil {
		return Decimal{}
	}
	return Decimal{attos: new(big.Int).Set(attos)}
}

// ParseDecimal reads a plain decimal string such as "-12.5".
func ParseDecimal(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("decimal: empty string")
	}
	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return Decimal{}, fmt.Errorf("decimal: no digits")
	}
	if len(frac) > DecimalPlaces {
		return Decimal{}, fmt.Errorf("decimal: more than %d fractional digits", DecimalPlaces)
	}
	digits := whole + frac + strings.Repeat("0", DecimalPlaces-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Decimal{}, fmt.Errorf("decimal: invalid digit %q", r)
		}
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("decimal: invalid number %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return Decimal{attos: v}, nil
}

// MustParseDecimal panics on malformed input. Intended for constants and tests.
func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) big() *big.Int {
	if d.attos == nil {
		return new(big.Int)
	}
	return d.attos
}

// Attos returns a copy of the underlying integer.
func (d Decimal) Attos() *big.Int { return new(big.Int).Set(d.big()) }

func (d Decimal) Add(o Decimal) Decimal { return Decimal{attos: new(big.Int).Add(d.big(), o.big())} }
func (d Decimal) Sub(o Decimal) Decimal { return Decimal{attos: new(big.Int).Sub(d.big(), o.big())} }
func (d Decimal) Neg() Decimal          { return Decimal{attos: new(big.Int).Neg(d.big())} }

// Mul multiplies and truncates toward zero.
func (d Decimal) Mul(o Decimal) Decimal {
	v := new(big.Int).Mul(d.big(), o.big())
	return Decimal{attos: v.Quo(v, decimalOne)}
}

// Div divides and truncates toward zero. Division by zero returns an error.
func (d Decimal) Div(o Decimal) (Decimal, error) {
	if o.IsZero() {
		return Decimal{}, fmt.Errorf("decimal: division by zero")
	}
	v := new(big.Int).Mul(d.big(), decimalOne)
	return Decimal{attos: v.Quo(v, o.big())}, nil
}

func (d Decimal) Cmp(o Decimal) int       { return d.big().Cmp(o.big()) }
func (d Decimal) Equal(o Decimal) bool    { return d.Cmp(o) == 0 }
func (d Decimal) IsZero() bool            { return d.big().Sign() == 0 }
func (d Decimal) IsNegative() bool        { return d.big().Sign() < 0 }
func (d Decimal) IsPositive() bool        { return d.big().Sign() > 0 }
func (d Decimal) LessThan(o Decimal) bool { return d.Cmp(o) < 0 }

// Max returns the larger of two decimals.
func Max(a, b Decimal) Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// RoundingMode selects how Round resolves discarded digits.
type RoundingMode uint8

const (
	ToPositiveInfinity RoundingMode = iota
	ToNegativeInfinity
	ToZero
	AwayFromZero
	ToNearestMidpointTowardZero
	ToNearestMidpointAwayFromZero
	ToNearestMidpointToEven
)

// Round keeps the given number of fractional digits.
func (d Decimal) Round(places uint8, mode RoundingMode) Decimal {
	if places >= DecimalPlaces {
		return d
	}
	unit := new(big.Int).Exp(bigTen, big.NewInt(int64(DecimalPlaces-places)), nil)
	v := d.big()
	q, r := new(big.Int).QuoRem(v, unit, new(big.Int))
	if r.Sign() == 0 {
		return d
	}
	neg := v.Sign() < 0
	awayFromZero := func() { q.Add(q, big.NewInt(int64(v.Sign()))) }
	half := new(big.Int).Rsh(unit, 1)
	absR := new(big.Int).Abs(r)
	switch mode {
	case ToPositiveInfinity:
		if !neg {
			awayFromZero()
		}
	case ToNegativeInfinity:
		if neg {
			awayFromZero()
		}
	case ToZero:
	case AwayFromZero:
		awayFromZero()
	case ToNearestMidpointTowardZero:
		if absR.Cmp(half) > 0 {
			awayFromZero()
		}
	case ToNearestMidpointAwayFromZero:
		if absR.Cmp(half) >= 0 {
			awayFromZero()
		}
	case ToNearestMidpointToEven:
		switch absR.Cmp(half) {
		case 1:
			awayFromZero()
		case 0:
			if q.Bit(0) == 1 {
				awayFromZero()
			}
		}
	}
	return Decimal{attos: q.Mul(q, unit)}
}

// FitsDivisibility reports whether the value is a whole multiple of the
// smallest unit at the given divisibility.
func (d Decimal) FitsDivisibility(divisibility uint8) bool {
	if divisibility >= DecimalPlaces {
		return true
	}
	unit := new(big.Int).Exp(bigTen, big.NewInt(int64(DecimalPlaces-divisibility)), nil)
	return new(big.Int).Rem(d.big(), unit).Sign() == 0
}

func (d Decimal) String() string {
	v := d.big()
	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if len(digits) <= DecimalPlaces {
		digits = strings.Repeat("0", DecimalPlaces-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-DecimalPlaces]
	frac := strings.TrimRight(digits[len(digits)-DecimalPlaces:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

func (d Decimal) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := ParseDecimal(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type decimalRLP struct {
	Negative  bool
	Magnitude []byte
}

// EncodeRLP implements rlp.Encoder; RLP has no signed integers.
func (d Decimal) EncodeRLP(w io.Writer) error {
	v := d.big()
	return rlp.Encode(w, decimalRLP{Negative: v.Sign() < 0, Magnitude: new(big.Int).Abs(v).Bytes()})
}

// DecodeRLP implements rlp.Decoder.
func (d *Decimal) DecodeRLP(s *rlp.Stream) error {
	var raw decimalRLP
	if err := s.Decode(&raw); err != nil {
		return err
	}
	v := new(big.Int).SetBytes(raw.Magnitude)
	if raw.Negative {
		v.Neg(v)
	}
	d.attos = v
	return nil
}
