package capture

import (
	"fmt"
	"math"

	"github.com/asticode/go-astiav"
)

// noPTS mirrors AV_NOPTS_VALUE: a timestamp that is absent.
const noPTS int64 = math.MinInt64

// TimeBase is a rational unit of time: one tick lasts Num/Den seconds.
type TimeBase struct {
	Num int
	Den int
}

// Valid reports whether the time-base is a positive fraction.
func (tb TimeBase) Valid() bool {
	return tb.Num > 0 && tb.Den > 0
}

// Reduced reports whether numerator and denominator share no factor.
func (tb TimeBase) Reduced() bool {
	return gcd(tb.Num, tb.Den) == 1
}

// Reduce returns the fraction in lowest terms.
func (tb TimeBase) Reduce() TimeBase {
	g := gcd(tb.Num, tb.Den)
	if g <= 1 {
		return tb
	}
	return TimeBase{Num: tb.Num / g, Den: tb.Den / g}
}

// Seconds converts a timestamp in this time-base to seconds.
func (tb TimeBase) Seconds(ts int64) float64 {
	if tb.Den == 0 {
		return 0
	}
	return float64(ts) * float64(tb.Num) / float64(tb.Den)
}

// Rescale converts ts from tb to dst, rounding to the nearest tick with
// halfway cases away from zero. The absent timestamp is passed through;
// a result that does not fit in int64 comes back absent.
func (tb TimeBase) Rescale(ts int64, dst TimeBase) int64 {
	if !tb.Valid() || !dst.Valid() {
		return noPTS
	}
	return astiav.RescaleQRnd(ts, tb.Rational(), dst.Rational(), astiav.RoundingNearInf|astiav.RoundingPassMinmax)
}

func (tb TimeBase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// Rational converts to the FFmpeg representation.
func (tb TimeBase) Rational() astiav.Rational {
	return astiav.NewRational(tb.Num, tb.Den)
}

func timeBaseOf(r astiav.Rational) TimeBase {
	return TimeBase{Num: r.Num(), Den: r.Den()}
}

func gcd(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
