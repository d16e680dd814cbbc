package scheduling

import (
	"sort"
	"time"
)

// slotMinutes converts a slot duration to whole minutes, rejecting anything
// that cannot step through a TimeOfDay.
func slotMinutes(d time.Duration) (int, error) {
	if d <= 0 || d%time.Minute != 0 {
		return 0, ErrInvalidSlotDuration
	}
	return int(d / time.Minute), nil
}

// ComputeSlots walks each window from its start in steps of duration, keeping
// every start whose full slot fits before the window ends, then drops starts
// that exactly match a booked time. The result is ordered and free of duplicates.
func ComputeSlots(windows []AvailabilityWindow, booked []TimeOfDay, duration time.Duration) ([]TimeOfDay, error) {
	step, err := slotMinutes(duration)
	if err != nil {
		return nil, err
	}

	taken := make(map[TimeOfDay]struct{}, len(booked))
	for _, t := range booked {
		taken[t] = struct{}{}
	}

	seen := make(map[TimeOfDay]struct{})
	var slots []TimeOfDay
	for _, w := range windows {
		for t := w.Start; t+TimeOfDay(step) <= w.End; t += TimeOfDay(step) {
			if _, ok := taken[t]; ok {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			slots = append(slots, t)
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots, nil
}

// offersSlot reports whether t is the start of a full slot in one of windows.
func offersSlot(windows []AvailabilityWindow, t TimeOfDay, duration time.Duration) bool {
	step, err := slotMinutes(duration)
	if err != nil {
		return false
	}
	for _, w := range windows {
		if t < w.Start || t+TimeOfDay(step) > w.End {
			continue
		}
		if int(t-w.Start)%step == 0 {
			return true
		}
	}
	return false
}
