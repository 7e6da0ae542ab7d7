package calendar

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"

	"trendboard/internal/adapters/config"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// TradingCalendar answers which days and minutes the exchange trades.
// Without an exchange calendar it falls back to Mon-Fri with the configured session.
type TradingCalendar struct {
	cal        *calendar.Calendar
	loc        *time.Location
	openOffset int // minutes after local midnight
	sessionLen int // minutes
}

// New builds the calendar of the configured market
func New(cfg config.MarketConfig) (*TradingCalendar, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	openOffset, sessionLen, err := cfg.SessionMinutes()
	if err != nil {
		return nil, err
	}

	tc := &TradingCalendar{loc: loc, openOffset: openOffset, sessionLen: sessionLen}

	mic := strings.ToLower(strings.TrimSpace(cfg.CalendarMIC))
	if mic != "" {
		tc.cal = calendar.GetCalendar(mic)
	}
	if tc.cal == nil {
		logger.Get().Component("calendar").Warnw("exchange calendar not available, using Mon-Fri fallback",
			"mic", mic,
			"timezone", loc.String(),
		)
	}

	return tc, nil
}

// NewFixed builds a Mon-Fri calendar without holidays (tests, backfills)
func NewFixed(loc *time.Location, openOffset, sessionLen int) (*TradingCalendar, error) {
	if loc == nil || sessionLen <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "fixed calendar needs a location and a session length")
	}
	return &TradingCalendar{loc: loc, openOffset: openOffset, sessionLen: sessionLen}, nil
}

// Location returns the market zone
func (tc *TradingCalendar) Location() *time.Location {
	return tc.loc
}

// SessionMinutes returns the number of 1-minute bars in a full session
func (tc *TradingCalendar) SessionMinutes() int {
	return tc.sessionLen
}

// SessionOpen returns the session open of the given day in the market zone
func (tc *TradingCalendar) SessionOpen(day time.Time) time.Time {
	d := day.In(tc.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, tc.loc).Add(time.Duration(tc.openOffset) * time.Minute)
}

// IsTradingDay reports whether the exchange trades on the date
func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	date = date.In(tc.loc)
	if tc.cal == nil {
		wd := date.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	// scmhub evaluates the date in its own zone; noon avoids day rollover
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, tc.loc)
	return tc.cal.IsBusinessDay(noon)
}

// InSession reports whether t falls inside the regular session of a trading day
func (tc *TradingCalendar) InSession(t time.Time) bool {
	t = t.In(tc.loc)
	if !tc.IsTradingDay(t) {
		return false
	}
	open := tc.SessionOpen(t)
	return !t.Before(open) && t.Before(open.Add(time.Duration(tc.sessionLen)*time.Minute))
}

// TradingDays counts trading days in [from, to), both taken as local dates
func (tc *TradingCalendar) TradingDays(from, to time.Time) int {
	from, to = from.In(tc.loc), to.In(tc.loc)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, tc.loc)
	n := 0
	for day.Before(to) {
		if tc.IsTradingDay(day) {
			n++
		}
		day = day.AddDate(0, 0, 1)
	}
	return n
}
