package response

import (
	"fmt"
	"strings"
	"time"
)

var dutchWeekdays = [...]string{"zondag", "maandag", "dinsdag", "woensdag", "donderdag", "vrijdag", "zaterdag"}

var dutchMonths = [...]string{"", "januari", "februari", "maart", "april", "mei", "juni", "juli",
	"augustus", "september", "oktober", "november", "december"}

// FormatEuros renders cents the Belgian way: 820 becomes "€8,20".
func FormatEuros(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s€%d,%02d", sign, cents/100, cents%100)
}

// SpokenDate turns 2026-10-16 into "vrijdag 16 oktober". Unparseable
// values are returned as given.
func SpokenDate(date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%s %d %s", dutchWeekdays[d.Weekday()], d.Day(), dutchMonths[d.Month()])
}

// SpokenTime turns 14:30 into "14 uur 30" and 10:00 into "10 uur".
func SpokenTime(clock string) string {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return clock
	}
	if t.Minute() == 0 {
		return fmt.Sprintf("%d uur", t.Hour())
	}
	return fmt.Sprintf("%d uur %d", t.Hour(), t.Minute())
}

// SpokenPhone groups digits the way Belgian numbers are read out:
// "0470 12 34 56" or "+32 470 12 34 56".
func SpokenPhone(phone string) string {
	var groups []string
	rest := phone
	switch {
	case strings.HasPrefix(phone, "+") && len(phone) > 6:
		groups = append(groups, phone[:3], phone[3:6])
		rest = phone[6:]
	case len(phone) > 4:
		groups = append(groups, phone[:4])
		rest = phone[4:]
	default:
		return phone
	}
	for len(rest) > 0 {
		n := min(2, len(rest))
		groups = append(groups, rest[:n])
		rest = rest[n:]
	}
	return strings.Join(groups, " ")
}
