package scheduling

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
func SystemClock() Clock { return systemClock{} }

// FixedClock always returns the same instant. Tests use it to pin "today".
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }
