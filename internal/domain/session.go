package domain

import (
	"fmt"
	"time"
)

// SessionCalendar describes the exchange's trading session. All session
// arithmetic is evaluated in the exchange's own timezone, never the host's
// local clock.
type SessionCalendar struct {
	Timezone    string `yaml:"timezone"`   // IANA name, e.g. "Asia/Kolkata"
	OpenHour    int    `yaml:"open_hour"`  // session open, exchange-local
	OpenMinute  int    `yaml:"open_minute"`
	CloseHour   int    `yaml:"close_hour"` // hard close, exchange-local
	CloseMinute int    `yaml:"close_minute"`
	// CloseoutLeadMinutes is the forced EOD close-out margin before the
	// hard close.
	CloseoutLeadMinutes int `yaml:"closeout_lead_minutes"`

	loc *time.Location
}

// DefaultSessionCalendar is the NSE cash session with a 15 minute
// close-out margin.
func DefaultSessionCalendar() SessionCalendar {
	return SessionCalendar{
		Timezone:            "Asia/Kolkata",
		OpenHour:            9,
		OpenMinute:          15,
		CloseHour:           15,
		CloseMinute:         30,
		CloseoutLeadMinutes: 15,
	}
}

// CloseoutLead returns the close-out margin as a duration.
func (c *SessionCalendar) CloseoutLead() time.Duration {
	return time.Duration(c.CloseoutLeadMinutes) * time.Minute
}

// Resolve loads the timezone. Must be called once before any session query.
func (c *SessionCalendar) Resolve() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("load session timezone %q: %w", c.Timezone, err)
	}
	c.loc = loc
	return nil
}

// location falls back to UTC if Resolve was never called, so a misconfigured
// calendar fails closed (queries outside a UTC session) instead of panicking.
func (c *SessionCalendar) location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// openAt and closeAt return the session boundaries for the day containing t,
// in exchange-local time.
func (c *SessionCalendar) openAt(t time.Time) time.Time {
	lt := t.In(c.location())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.OpenHour, c.OpenMinute, 0, 0, c.location())
}

func (c *SessionCalendar) closeAt(t time.Time) time.Time {
	lt := t.In(c.location())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.CloseHour, c.CloseMinute, 0, 0, c.location())
}

// IsTradingDay reports whether t falls on a weekday in the exchange timezone.
func (c *SessionCalendar) IsTradingDay(t time.Time) bool {
	wd := t.In(c.location()).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsOpen reports whether the exchange session is open at t.
func (c *SessionCalendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	lt := t.In(c.location())
	return !lt.Before(c.openAt(t)) && lt.Before(c.closeAt(t))
}

// InCloseoutWindow reports whether t is inside the forced close-out margin:
// the session is still open but the hard close is at most CloseoutLead away.
func (c *SessionCalendar) InCloseoutWindow(t time.Time) bool {
	if !c.IsOpen(t) {
		return false
	}
	return !t.In(c.location()).Before(c.closeAt(t).Add(-c.CloseoutLead()))
}

// SessionDate returns the exchange-local calendar date of t, used as the
// archive partition key.
func (c *SessionCalendar) SessionDate(t time.Time) time.Time {
	lt := t.In(c.location())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.location())
}

// PreviousTradingDay returns the most recent weekday strictly before t's
// session date. Exchange holidays are resolved by the bar archive simply
// having no rows for the day.
func (c *SessionCalendar) PreviousTradingDay(t time.Time) time.Time {
	d := c.SessionDate(t).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
