package schedule

import "github.com/luminstall/fieldops-backend/pkg/types"

// Working-day boundaries. Installers work two half-days separated by a fixed
// lunch break; a slot may not straddle the break.
var (
	MorningStart   = types.NewTimeOfDay(8, 0)
	MorningEnd     = types.NewTimeOfDay(12, 0)
	AfternoonStart = types.NewTimeOfDay(14, 0)
	AfternoonEnd   = types.NewTimeOfDay(18, 0)

	LunchStart = MorningEnd
	LunchEnd   = AfternoonStart
)

// IsWithinWorkingHours reports whether [start, end] lies entirely inside the
// morning half-day or entirely inside the afternoon half-day.
func IsWithinWorkingHours(start, end types.TimeOfDay) bool {
	if start > end {
		return false
	}
	if start >= MorningStart && end <= MorningEnd {
		return true
	}
	return start >= AfternoonStart && end <= AfternoonEnd
}

// Overlaps is the half-open interval test: [aStart, aEnd) and [bStart, bEnd)
// intersect. Back-to-back intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd types.TimeOfDay) bool {
	return aStart < bEnd && aEnd > bStart
}

// ConflictsWithLunch reports whether the interval crosses the lunch break.
func ConflictsWithLunch(start, end types.TimeOfDay) bool {
	return Overlaps(start, end, LunchStart, LunchEnd)
}
