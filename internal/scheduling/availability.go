package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medcare/scheduling-engine/internal/metrics"
)

func checkWindow(day Weekday, start, end TimeOfDay) error {
	if !day.Valid() {
		return fmt.Errorf("%w: day of week %d is outside 0..6", ErrInvalidRange, int(day))
	}
	if !start.Valid() || !end.Valid() {
		return fmt.Errorf("%w: times must be within 00:00..24:00", ErrInvalidRange)
	}
	if start >= end {
		return fmt.Errorf("%w: %s-%s", ErrInvalidRange, start, end)
	}
	return nil
}

// findOverlap returns the first window that overlaps [start, end), skipping self.
func findOverlap(windows []AvailabilityWindow, start, end TimeOfDay, self uuid.UUID) *AvailabilityWindow {
	for i := range windows {
		if windows[i].ID == self {
			continue
		}
		if windows[i].Overlaps(start, end) {
			return &windows[i]
		}
	}
	return nil
}

func overlapErr(w *AvailabilityWindow) error {
	return fmt.Errorf("%w: %s %s-%s", ErrOverlap, w.Day, w.Start, w.End)
}

// AddWindow records a new weekly window for the acting practitioner.
func (s *Service) AddWindow(ctx context.Context, actor Actor, practitionerID uuid.UUID, day Weekday, start, end TimeOfDay) (*AvailabilityWindow, error) {
	w, err := s.addWindow(ctx, actor, practitionerID, day, start, end)
	metrics.AvailabilityChanges.WithLabelValues("add", outcome(err)).Inc()
	return w, err
}

func (s *Service) addWindow(ctx context.Context, actor Actor, practitionerID uuid.UUID, day Weekday, start, end TimeOfDay) (*AvailabilityWindow, error) {
	if !actor.IsPractitioner(practitionerID) {
		return nil, ErrNotAuthorized
	}
	if err := checkWindow(day, start, end); err != nil {
		return nil, err
	}

	now := s.now()
	w := &AvailabilityWindow{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		Day:            day,
		Start:          start,
		End:            end,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.store.WithPractitionerLock(ctx, practitionerID, func(ctx context.Context, tx AvailabilityTx) error {
		existing, err := tx.ListWindowsForDay(ctx, practitionerID, day)
		if err != nil {
			return err
		}
		if conflict := findOverlap(existing, start, end, uuid.Nil); conflict != nil {
			return overlapErr(conflict)
		}
		return tx.InsertWindow(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("window_id", w.ID.String()).
		Str("practitioner_id", practitionerID.String()).
		Str("day", day.String()).
		Str("start", start.String()).
		Str("end", end.String()).
		Msg("availability window added")
	return w, nil
}

// UpdateWindow replaces the day and times of an existing window. The overlap
// check ignores the window being edited, so a no-op edit succeeds.
func (s *Service) UpdateWindow(ctx context.Context, actor Actor, id uuid.UUID, day Weekday, start, end TimeOfDay) (*AvailabilityWindow, error) {
	w, err := s.updateWindow(ctx, actor, id, day, start, end)
	metrics.AvailabilityChanges.WithLabelValues("update", outcome(err)).Inc()
	return w, err
}

func (s *Service) updateWindow(ctx context.Context, actor Actor, id uuid.UUID, day Weekday, start, end TimeOfDay) (*AvailabilityWindow, error) {
	current, err := s.store.GetWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsPractitioner(current.PractitionerID) {
		return nil, ErrNotAuthorized
	}
	if err := checkWindow(day, start, end); err != nil {
		return nil, err
	}

	var updated *AvailabilityWindow
	err = s.store.WithPractitionerLock(ctx, current.PractitionerID, func(ctx context.Context, tx AvailabilityTx) error {
		w, err := tx.GetWindow(ctx, id)
		if err != nil {
			return err
		}
		existing, err := tx.ListWindowsForDay(ctx, w.PractitionerID, day)
		if err != nil {
			return err
		}
		if conflict := findOverlap(existing, start, end, w.ID); conflict != nil {
			return overlapErr(conflict)
		}

		w.Day = day
		w.Start = start
		w.End = end
		w.UpdatedAt = s.now()
		if err := tx.UpdateWindow(ctx, w); err != nil {
			return err
		}
		updated = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("window_id", id.String()).
		Str("day", day.String()).
		Str("start", start.String()).
		Str("end", end.String()).
		Msg("availability window updated")
	return updated, nil
}

func (s *Service) RemoveWindow(ctx context.Context, actor Actor, id uuid.UUID) error {
	err := s.removeWindow(ctx, actor, id)
	metrics.AvailabilityChanges.WithLabelValues("remove", outcome(err)).Inc()
	return err
}

func (s *Service) removeWindow(ctx context.Context, actor Actor, id uuid.UUID) error {
	current, err := s.store.GetWindow(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsPractitioner(current.PractitionerID) {
		return ErrNotAuthorized
	}

	err = s.store.WithPractitionerLock(ctx, current.PractitionerID, func(ctx context.Context, tx AvailabilityTx) error {
		return tx.DeleteWindow(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("window_id", id.String()).Msg("availability window removed")
	return nil
}

// ListWindows returns a practitioner's weekly windows ordered by day, then start.
func (s *Service) ListWindows(ctx context.Context, practitionerID uuid.UUID) ([]AvailabilityWindow, error) {
	return s.store.ListWindows(ctx, practitionerID)
}

// GenerateSlots derives the bookable slots for one practitioner and date from
// the current windows and live appointments. Nothing is cached.
func (s *Service) GenerateSlots(ctx context.Context, practitionerID uuid.UUID, date time.Time, slotDuration time.Duration) ([]BookableSlot, error) {
	if _, err := slotMinutes(slotDuration); err != nil {
		return nil, err
	}
	date = DateOf(date)

	windows, err := s.store.ListWindowsForDay(ctx, practitionerID, WeekdayOf(date))
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		metrics.SlotsGenerated.Observe(0)
		return []BookableSlot{}, nil
	}

	booked, err := s.store.LiveTimes(ctx, practitionerID, date)
	if err != nil {
		return nil, err
	}

	times, err := ComputeSlots(windows, booked, slotDuration)
	if err != nil {
		return nil, err
	}

	slots := make([]BookableSlot, 0, len(times))
	for _, t := range times {
		slots = append(slots, BookableSlot{PractitionerID: practitionerID, Date: date, Time: t})
	}
	metrics.SlotsGenerated.Observe(float64(len(slots)))
	return slots, nil
}
