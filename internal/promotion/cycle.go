package promotion

import "time"

// WeekWindow returns the Monday 00:00:00 .. Sunday 23:59:59 window containing t.
func WeekWindow(t time.Time) (begin, end time.Time) {
	// time.Weekday has Sunday == 0; shift so Monday == 0.
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	begin = day.AddDate(0, 0, -offset)
	end = begin.AddDate(0, 0, 7).Add(-time.Second)
	return begin, end
}

// FirstWeek reports whether a cycle beginning at cycleBegin counts as the
// first week of its calendar month: its start falls in the first 7 days.
func FirstWeek(cycleBegin time.Time) bool {
	return cycleBegin.Day() <= 7
}

// CycleClosed reports whether a summary last updated at updatedAt belongs to
// a week that has already ended relative to now, i.e. the rollover sweep
// still owes it a period close.
func CycleClosed(updatedAt, now time.Time) bool {
	weekBegin, _ := WeekWindow(now)
	return updatedAt.Before(weekBegin)
}

// MonthClosed reports whether updatedAt falls in the calendar month
// immediately preceding now's month.
func MonthClosed(updatedAt, now time.Time) bool {
	prev := now.AddDate(0, 0, -now.Day())
	return updatedAt.Year() == prev.Year() && updatedAt.Month() == prev.Month()
}

// SameCycle reports whether two instants share a weekly cycle window.
func SameCycle(a, b time.Time) bool {
	ab, _ := WeekWindow(a)
	bb, _ := WeekWindow(b)
	return ab.Equal(bb)
}
