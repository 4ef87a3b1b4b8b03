package video

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Rational represents an exact ratio of two integers. It is used for
// frame rates and stream time bases, where floating point would drift
// over long timelines.
type Rational struct {
	Num int // Numerator
	Den int // Denominator
}

// NewRational creates a new rational number
func NewRational(num, den int) Rational {
	if den == 0 {
		den = 1
	}
	return Rational{Num: num, Den: den}
}

// Float64 returns the floating point representation
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Invert returns the inverted rational (den/num)
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

// IsValid reports whether the rational is a usable positive ratio.
func (r Rational) IsValid() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Named frame rates accepted by ParseRate.
var namedRates = map[string]Rational{
	"ntsc":      {Num: 30000, Den: 1001},
	"pal":       {Num: 25, Den: 1},
	"film":      {Num: 24, Den: 1},
	"ntsc-film": {Num: 24000, Den: 1001},
}

// Common frame rates
var (
	Rate24 = Rational{Num: 24, Den: 1}
	Rate25 = Rational{Num: 25, Den: 1}
	Rate30 = Rational{Num: 30, Den: 1}
	Rate50 = Rational{Num: 50, Den: 1}
	Rate60 = Rational{Num: 60, Den: 1}

	Rate23_976 = Rational{Num: 24000, Den: 1001}
	Rate29_97  = Rational{Num: 30000, Den: 1001}
	Rate59_94  = Rational{Num: 60000, Den: 1001}
)

// ParseRate parses a frame rate string. Accepted forms are an integer
// ("60"), a ratio ("60000/1001"), a decimal ("29.97") or a named rate
// (ntsc, pal, film, ntsc-film).
func ParseRate(s string) (Rational, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rational{}, fmt.Errorf("empty rate")
	}

	if r, ok := namedRates[strings.ToLower(s)]; ok {
		return r, nil
	}

	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		num, err := strconv.Atoi(strings.TrimSpace(s[:idx]))
		if err != nil {
			return Rational{}, fmt.Errorf("bad numerator: %w", err)
		}
		den, err := strconv.Atoi(strings.TrimSpace(s[idx+1:]))
		if err != nil {
			return Rational{}, fmt.Errorf("bad denominator: %w", err)
		}
		if den == 0 {
			return Rational{}, fmt.Errorf("zero denominator")
		}
		r, _ := Reduce(int64(num), int64(den), math.MaxInt32)
		return r, nil
	}

	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		fracDigits := len(s) - idx - 1
		if fracDigits == 0 || fracDigits > 9 {
			return Rational{}, fmt.Errorf("bad decimal rate %q", s)
		}
		digits := s[:idx] + s[idx+1:]
		num, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return Rational{}, fmt.Errorf("bad decimal rate %q: %w", s, err)
		}
		den := int64(1)
		for i := 0; i < fracDigits; i++ {
			den *= 10
		}
		r, _ := Reduce(num, den, math.MaxInt32)
		return r, nil
	}

	num, err := strconv.Atoi(s)
	if err != nil {
		return Rational{}, fmt.Errorf("bad rate %q: %w", s, err)
	}
	return Rational{Num: num, Den: 1}, nil
}

// Gcd returns the greatest common divisor of two non-negative integers.
func Gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Reduce reduces num/den to its lowest terms with both parts bounded by
// max. When the exact reduction does not fit, the closest continued
// fraction approximation within the bound is returned and exact is false.
func Reduce(num, den, max int64) (r Rational, exact bool) {
	a0 := Rational{Num: 0, Den: 1}
	a1 := Rational{Num: 1, Den: 0}
	sign := (num < 0) != (den < 0)

	if num < 0 {
		num = -num
	}
	if den < 0 {
		den = -den
	}

	if g := Gcd(num, den); g != 0 {
		num /= g
		den /= g
	}

	if num <= max && den <= max {
		a1 = Rational{Num: int(num), Den: int(den)}
		den = 0
	}

	for den != 0 {
		x := num / den
		nextDen := num - den*x
		a2n := x*int64(a1.Num) + int64(a0.Num)
		a2d := x*int64(a1.Den) + int64(a0.Den)

		if a2n > max || a2d > max {
			if a1.Num != 0 {
				x = (max - int64(a0.Num)) / int64(a1.Num)
			}
			if a1.Den != 0 {
				if alt := (max - int64(a0.Den)) / int64(a1.Den); alt < x {
					x = alt
				}
			}
			if den*(2*x*int64(a1.Den)+int64(a0.Den)) > num*int64(a1.Den) {
				a1 = Rational{
					Num: int(x*int64(a1.Num) + int64(a0.Num)),
					Den: int(x*int64(a1.Den) + int64(a0.Den)),
				}
			}
			break
		}

		a0 = a1
		a1 = Rational{Num: int(a2n), Den: int(a2d)}
		num = den
		den = nextDen
	}

	if sign {
		a1.Num = -a1.Num
	}
	return a1, den == 0
}

// Rescale computes a*b/c with 128-bit intermediates, rounding to the
// nearest integer with halves away from zero. It returns math.MinInt64
// when the result does not fit in 64 bits.
func Rescale(a, b, c int64) int64 {
	neg := false
	if a < 0 {
		a = -a
		neg = !neg
	}
	if b < 0 {
		b = -b
		neg = !neg
	}
	if c < 0 {
		c = -c
		neg = !neg
	}
	if c == 0 {
		return math.MinInt64
	}

	hi, lo := bits.Mul64(uint64(a), uint64(b))
	half := uint64(c) / 2
	lo, carry := bits.Add64(lo, half, 0)
	hi += carry

	if hi >= uint64(c) {
		return math.MinInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return math.MinInt64
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// RescaleQ converts a timestamp from time base bq to time base cq.
func RescaleQ(a int64, bq, cq Rational) int64 {
	b := int64(bq.Num) * int64(cq.Den)
	c := int64(cq.Num) * int64(bq.Den)
	return Rescale(a, b, c)
}

// DeriveTimeBase computes the output time base for converting a stream
// with time base src to the frame rate fps. The base is chosen so that
// consecutive output frames sit an exact integer number of ticks apart.
// exact is false when the base had to be approximated.
func DeriveTimeBase(src Rational, fps Rational) (tb Rational, exact bool) {
	num := Gcd(int64(src.Num)*int64(fps.Num), int64(src.Den)*int64(fps.Den))
	den := int64(src.Den) * int64(fps.Num)
	return Reduce(num, den, math.MaxInt32)
}
