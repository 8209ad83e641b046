package domain

import "fmt"

// ScheduleSlot is a fixed daily posting trigger: at (Hour, Minute) local
// time, post one item of Category. The slot table is immutable for the
// process lifetime; multiple slots may share a category.
type ScheduleSlot struct {
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Category string `json:"category"`
}

// Minutes returns the slot position as minutes since midnight.
func (s ScheduleSlot) Minutes() int { return s.Hour*60 + s.Minute }

// Key returns the at-most-once firing key for this slot on the given date
// key (an ISO date such as "2026-08-27"). One key fires at most once.
func (s ScheduleSlot) Key(dateKey string) string {
	return fmt.Sprintf("%s-%02d:%02d-%s", dateKey, s.Hour, s.Minute, s.Category)
}

// Categories returns the distinct categories appearing in the slot table,
// in first-seen order. The queue refill planner targets exactly this set.
func Categories(slots []ScheduleSlot) []string {
	seen := make(map[string]struct{}, len(slots))
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		if _, ok := seen[s.Category]; ok {
			continue
		}
		seen[s.Category] = struct{}{}
		out = append(out, s.Category)
	}
	return out
}
