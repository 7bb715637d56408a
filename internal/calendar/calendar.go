// Package calendar implements the month-grid arithmetic behind the scheduling
// views. It is pure computation: no clock reads besides the injected "today"
// and no I/O.
package calendar

import (
	"time"
)

// DateLayout is the civil-date key format used across the scheduling core.
const DateLayout = "2006-01-02"

// DateOf returns the civil date of t in its own location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// Month identifies a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// DaysIn returns the number of days in the month, Gregorian rules.
func (m Month) DaysIn() int {
	// Day zero of the next month normalizes to the last day of this one.
	return time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// FirstWeekdayOffset returns the number of leading blank cells in a
// Sunday-start grid, i.e. the weekday index of the 1st.
func (m Month) FirstWeekdayOffset() int {
	return int(time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).Weekday())
}

// Next returns the following month.
func (m Month) Next() Month {
	t := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return Month{Year: t.Year(), Month: t.Month()}
}

// Prev returns the preceding month.
func (m Month) Prev() Month {
	t := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return Month{Year: t.Year(), Month: t.Month()}
}

// Date returns the civil-date key of the given day number in this month.
func (m Month) Date(day int) string {
	return time.Date(m.Year, m.Month, day, 0, 0, 0, 0, time.UTC).Format(DateLayout)
}

// DaySummary annotates one day with its appointment load.
type DaySummary struct {
	Count int
	Types []string
}

// DayCell is one grid cell. Blank leading cells have Day == 0.
type DayCell struct {
	Day          int
	Date         string
	Today        bool
	Selected     bool
	Appointments DaySummary
	Availability string // "available", "unavailable" or "" when unresolved
}

// View is a navigable month view with a month-scoped day selection.
type View struct {
	month    Month
	selected string // civil date, empty when nothing is selected
	now      func() time.Time
}

// NewView creates a view positioned on the month containing now().
// A nil now defaults to time.Now.
func NewView(now func() time.Time) *View {
	if now == nil {
		now = time.Now
	}
	return &View{month: MonthOf(now()), now: now}
}

// Month returns the month currently shown.
func (v *View) Month() Month {
	return v.month
}

// Selected returns the selected civil date, or "" when no day is selected.
func (v *View) Selected() string {
	return v.selected
}

// Navigate moves one month forward (+1) or back (-1). Any selection is
// cleared: selections never carry across months.
func (v *View) Navigate(direction int) {
	if direction >= 0 {
		v.month = v.month.Next()
	} else {
		v.month = v.month.Prev()
	}
	v.selected = ""
}

// Select marks a day of the shown month as selected. Reselecting the same
// day is a no-op. Out-of-range days are ignored.
func (v *View) Select(day int) {
	if day < 1 || day > v.month.DaysIn() {
		return
	}
	v.selected = v.month.Date(day)
}

// ClearSelection drops the current day selection.
func (v *View) ClearSelection() {
	v.selected = ""
}

// Grid lays out the shown month. byDay carries per-date appointment
// summaries and availability per-date resolved tags; both are keyed by
// civil date and may be nil.
func (v *View) Grid(byDay map[string]DaySummary, availability map[string]string) []DayCell {
	offset := v.month.FirstWeekdayOffset()
	days := v.month.DaysIn()
	today := DateOf(v.now())

	cells := make([]DayCell, 0, offset+days)
	for i := 0; i < offset; i++ {
		cells = append(cells, DayCell{})
	}
	for day := 1; day <= days; day++ {
		date := v.month.Date(day)
		cell := DayCell{
			Day:      day,
			Date:     date,
			Today:    date == today,
			Selected: date == v.selected,
		}
		if byDay != nil {
			cell.Appointments = byDay[date]
		}
		if availability != nil {
			cell.Availability = availability[date]
		}
		cells = append(cells, cell)
	}
	return cells
}
