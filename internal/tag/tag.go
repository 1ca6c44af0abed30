package tag

import (
	"fmt"
	"math"
	"time"
)

// Sentinel instants. Never sorts before every other instant and Forever
// after every other instant.
const (
	Never   int64 = math.MinInt64
	Forever int64 = math.MaxInt64

	// MaxMicrostep is the largest representable microstep.
	MaxMicrostep uint32 = math.MaxUint32
)

// Tag is a point in logical time: an instant in nanoseconds plus a
// microstep that orders zero-delay causality within the instant.
//
// Tags are totally ordered: time first, then microstep.
type Tag struct {
	Time      int64  `json:"time"`
	Microstep uint32 `json:"microstep"`
}

var (
	// NeverTag is the earliest possible tag.
	NeverTag = Tag{Time: Never, Microstep: 0}

	// ForeverTag is the latest possible tag.
	ForeverTag = Tag{Time: Forever, Microstep: MaxMicrostep}

	// Zero is the tag (0, 0).
	Zero = Tag{}
)

// New returns the tag (t, m).
func New(t int64, m uint32) Tag {
	return Tag{Time: t, Microstep: m}
}

// Compare returns -1, 0 or 1 when a is before, equal to, or after b.
func Compare(a, b Tag) int {
	switch {
	case a.Time < b.Time:
		return -1
	case a.Time > b.Time:
		return 1
	case a.Microstep < b.Microstep:
		return -1
	case a.Microstep > b.Microstep:
		return 1
	default:
		return 0
	}
}

// Compare is shorthand for Compare(t, o).
func (t Tag) Compare(o Tag) int { return Compare(t, o) }

// Before reports whether t sorts strictly before o.
func (t Tag) Before(o Tag) bool { return Compare(t, o) < 0 }

// After reports whether t sorts strictly after o.
func (t Tag) After(o Tag) bool { return Compare(t, o) > 0 }

// IsNever reports whether t carries the Never instant.
func (t Tag) IsNever() bool { return t.Time == Never }

// IsForever reports whether t carries the Forever instant.
func (t Tag) IsForever() bool { return t.Time == Forever }

// Delay returns the tag interval after t.
//
// A negative interval means no delay and returns t unchanged, as does a
// tag at Never. A zero interval advances the microstep only. A positive
// interval advances time and resets the microstep. Results saturate at
// ForeverTag rather than wrap.
func Delay(t Tag, interval int64) Tag {
	if t.Time == Never || interval < 0 {
		return t
	}
	if t.Time >= Forever-interval {
		return ForeverTag
	}
	if interval == 0 {
		if t.Microstep == MaxMicrostep {
			return ForeverTag
		}
		t.Microstep++
		return t
	}
	return Tag{Time: t.Time + interval, Microstep: 0}
}

// DelayStrict returns the greatest tag strictly before Delay(t, interval)
// for a nonzero interval. With a zero interval it equals Delay.
func DelayStrict(t Tag, interval int64) Tag {
	result := Delay(t, interval)
	if interval != 0 && result.Time != Never && result.Time != Forever {
		result.Time--
		result.Microstep = MaxMicrostep
	}
	return result
}

// Add sums two tags with saturation. Either operand at Never yields
// NeverTag; either at Forever yields ForeverTag. When b.Time is positive
// the microstep of a is discarded, so Add is not commutative.
func Add(a, b Tag) Tag {
	if a.Time == Never || b.Time == Never {
		return NeverTag
	}
	if a.Time == Forever || b.Time == Forever {
		return ForeverTag
	}
	if b.Time > 0 {
		a.Microstep = 0
	}
	res := Tag{Time: a.Time + b.Time, Microstep: a.Microstep + b.Microstep}
	if res.Microstep < a.Microstep {
		return ForeverTag
	}
	if res.Time < a.Time && b.Time > 0 {
		return ForeverTag
	}
	if res.Time > a.Time && b.Time < 0 {
		return NeverTag
	}
	return res
}

// Min returns the earlier of a and b.
func Min(a, b Tag) Tag {
	if Compare(a, b) <= 0 {
		return a
	}
	return b
}

// Max returns the later of a and b.
func Max(a, b Tag) Tag {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// Elapsed returns t relative to start, keeping the microstep.
func (t Tag) Elapsed(start int64) Tag {
	switch t.Time {
	case Never, Forever:
		return t
	}
	return Tag{Time: t.Time - start, Microstep: t.Microstep}
}

// String renders the tag as "(time, microstep)" with the time as a
// duration, or NEVER/FOREVER for the sentinels.
func (t Tag) String() string {
	return fmt.Sprintf("(%s, %d)", FormatInstant(t.Time), t.Microstep)
}

// FormatInstant renders an instant or interval for humans.
func FormatInstant(v int64) string {
	switch v {
	case Never:
		return "NEVER"
	case Forever:
		return "FOREVER"
	}
	return time.Duration(v).String()
}
