package service

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always reports the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time {
	return time.Time(c).UTC()
}
