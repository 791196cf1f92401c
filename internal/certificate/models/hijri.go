package models

import (
	"fmt"
	"time"
)

var hijriMonths = [12]string{
	"Muharram", "Safar", "Rabi al-Awwal", "Rabi al-Thani",
	"Jumada al-Awwal", "Jumada al-Thani", "Rajab", "Shaban",
	"Ramadan", "Shawwal", "Dhu al-Qadah", "Dhu al-Hijjah",
}

// ToHijri converts a Gregorian date with the arithmetical (tabular) Islamic
// calendar. It can differ by a day from sighting-based calendars.
func ToHijri(t time.Time) (year, month, day int) {
	y, m, d := t.Date()
	l := julianDayNumber(y, int(m), d) - 1948440 + 10632
	n := (l - 1) / 10631
	l = l - 10631*n + 354
	j := ((10985-l)/5316)*((50*l)/17719) + (l/5670)*((43*l)/15238)
	l = l - ((30-j)/15)*((17719*j)/50) - (j/16)*((15238*j)/43) + 29
	month = (24 * l) / 709
	day = l - (709*month)/24
	year = 30*n + j - 30
	return year, month, day
}

// FormatHijri renders t as e.g. "12 Ramadan 1447 AH".
func FormatHijri(t time.Time) string {
	y, m, d := ToHijri(t)
	return fmt.Sprintf("%d %s %d AH", d, hijriMonths[m-1], y)
}

func julianDayNumber(year, month, day int) int {
	a := (14 - month) / 12
	y := year + 4800 - a
	m := month + 12*a - 3
	return day + (153*m+2)/5 + 365*y + y/4 - y/100 + y/400 - 32045
}
