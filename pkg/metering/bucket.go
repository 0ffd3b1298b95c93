package metering

import (
	"time"
	_ "time/tzdata"
)

// DefaultReferenceTimezone is the zone every usage counter is bucketed in.
const DefaultReferenceTimezone = "Asia/Kolkata"

// BucketLayout is the wire and storage format of a day bucket.
const BucketLayout = "2006-01-02"

// LoadLocation resolves an IANA zone name. Unknown names fall back to the
// fixed IST offset so bucketing never depends on the host's zone database.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultReferenceTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+30*60)
}

// DayBucket returns the calendar date of t in loc.
func DayBucket(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(BucketLayout)
}

// Calendar computes day buckets in one fixed reference zone.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar creates a Calendar for the named zone using the wall clock.
func NewCalendar(zone string) *Calendar {
	return &Calendar{loc: LoadLocation(zone), now: time.Now}
}

// WithClock returns a copy of c that reads time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

// Now returns the current instant.
func (c *Calendar) Now() time.Time {
	return c.now()
}

// Today returns the current day bucket.
func (c *Calendar) Today() string {
	return DayBucket(c.now(), c.loc)
}

// Location returns the reference zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}
