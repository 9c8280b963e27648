package timeutil

import (
	"sync/atomic"
	"time"
)

const DefaultZone = "Asia/Almaty"

var business atomic.Pointer[time.Location]

func init() {
	business.Store(loadLocation(DefaultZone))
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(DefaultZone, 5*60*60)
	}
	return loc
}

// SetLocation switches the business timezone. Unknown names fall back to Asia/Almaty (UTC+5).
func SetLocation(name string) *time.Location {
	if name == "" {
		name = DefaultZone
	}
	loc := loadLocation(name)
	business.Store(loc)
	return loc
}

// Location returns the business timezone.
func Location() *time.Location {
	return business.Load()
}

// Now returns the current time in the business timezone.
func Now() time.Time {
	return time.Now().In(Location())
}

// In converts t to the business timezone.
func In(t time.Time) time.Time {
	return t.In(Location())
}

// Year is the calendar year of t as seen in the business timezone.
func Year(t time.Time) int {
	return In(t).Year()
}
