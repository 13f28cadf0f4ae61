package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/wolfman30/voice-receptionist/internal/catalog"
	"github.com/wolfman30/voice-receptionist/internal/slots"
)

var (
	isoDateRE    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dayMonthRE   = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})(?:[/-](\d{2,4}))?\b`)
	namedMonthRE = regexp.MustCompile(`(?i)\b(\d{1,2})(?:e|ste|de|st|nd|rd|th)?\s+(januari|februari|maart|april|mei|juni|juli|augustus|september|oktober|november|december|january|february|march|may|june|july|august|october)\b`)

	clockRE    = regexp.MustCompile(`(?i)\b(\d{1,2})\s*[:uh]\s*(\d{2})\b`)
	meridiemRE = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(a\.m\.|p\.m\.|am|pm)`)
	uurRE      = regexp.MustCompile(`(?i)\b(\d{1,2})\s*uur\b`)
	atHourRE   = regexp.MustCompile(`(?i)\b(?:om|at|rond|around|tegen)\s+(\d{1,2})\b`)

	phoneRE = regexp.MustCompile(`\+?\d[\d\s\-./]{7,}\d`)

	nameCueRE     = regexp.MustCompile(`(?i)\b(?:mijn naam is|ik heet|op naam van|op de naam|naam is|my name is|name is|under the name)\s+(.+)`)
	weakNameCueRE = regexp.MustCompile(`(?i)^(?:ik ben|this is|it'?s|i am|i'm|met)\s+(.+)`)
	addressCueRE  = regexp.MustCompile(`(?i)\b(?:adres is|mijn adres|address is|leveren (?:op|aan|naar)|deliver (?:to|at))\s*:?\s*(.+)`)
)

var monthNames = map[string]time.Month{
	"januari": time.January, "january": time.January,
	"februari": time.February, "february": time.February,
	"maart": time.March, "march": time.March,
	"april": time.April,
	"mei": time.May, "may": time.May,
	"juni": time.June, "june": time.June,
	"juli": time.July, "july": time.July,
	"augustus": time.August, "august": time.August,
	"september": time.September,
	"oktober": time.October, "october": time.October,
	"november": time.November,
	"december": time.December,
}

var weekdayNames = map[string]time.Weekday{
	"maandag": time.Monday, "monday": time.Monday,
	"dinsdag": time.Tuesday, "tuesday": time.Tuesday,
	"woensdag": time.Wednesday, "wednesday": time.Wednesday,
	"donderdag": time.Thursday, "thursday": time.Thursday,
	"vrijdag": time.Friday, "friday": time.Friday,
	"zaterdag": time.Saturday, "saturday": time.Saturday,
	"zondag": time.Sunday, "sunday": time.Sunday,
}

// relativeDays is checked longest phrase first.
var relativeDays = []struct {
	phrase string
	days   int
}{
	{"day after tomorrow", 2},
	{"overmorgen", 2},
	{"vandaag", 0},
	{"today", 0},
	{"morgen", 1},
	{"tomorrow", 1},
}

var (
	pickupPhrases   = []string{"afhalen", "ophalen", "afhaal", "kom het halen", "kom halen", "meenemen", "pick up", "pickup", "pick it up", "collect", "takeaway", "take away"}
	deliveryPhrases = []string{"leveren", "bezorgen", "levering", "thuislevering", "laten brengen", "delivery", "deliver", "delivered"}

	noWords       = map[string]bool{"nee": true, "neen": true, "nope": true, "no": true, "wrong": true, "fout": true, "incorrect": true}
	negators      = map[string]bool{"niet": true, "not": true, "geen": true, "nooit": true, "never": true}
	// interjections are yes words that a following "niet" does not negate.
	interjections = map[string]bool{"ja": true, "jawel": true, "jazeker": true, "yes": true, "yeah": true, "yep": true, "sure": true}
	yesWords      = map[string]bool{"ja": true, "jawel": true, "jazeker": true, "klopt": true, "correct": true, "juist": true, "ok": true, "oke": true, "okay": true, "prima": true, "goed": true, "perfect": true, "yes": true, "yeah": true, "yep": true, "sure": true, "right": true}

	ownNumberPhrases = []string{"dit nummer", "hetzelfde nummer", "het nummer waarmee ik bel", "nummer waarmee ik bel", "this number", "same number", "the number i'm calling from", "number i am calling from"}
)

var spokenDigits = map[string]string{
	"nul": "0", "zero": "0", "oh": "0",
	"een": "1", "one": "1",
	"twee": "2", "two": "2",
	"drie": "3", "three": "3",
	"vier": "4", "four": "4",
	"vijf": "5", "five": "5",
	"zes": "6", "six": "6",
	"zeven": "7", "seven": "7",
	"acht": "8", "eight": "8",
	"negen": "9", "nine": "9",
}

// nameStopWords end a captured name.
var nameStopWords = map[string]bool{
	"en": true, "and": true, "mijn": true, "my": true, "nummer": true, "number": true,
	"telefoon": true, "phone": true, "om": true, "at": true, "voor": true, "for": true,
	"graag": true, "please": true, "alstublieft": true, "alsjeblieft": true, "dank": true, "bedankt": true,
	"er": true, "de": true, "het": true, "van": true, "is": true, "wil": true,
}

// parseDeterministic handles the unambiguous slot types: dates, times, phone
// numbers, delivery type, confirmations, and cue-led names and addresses.
func parseDeterministic(req Request) slots.Entities {
	var e slots.Entities
	text := strings.TrimSpace(req.Transcript)
	if text == "" {
		return e
	}
	norm := catalog.Normalize(text)
	now := req.now()

	if d, ok := parseDate(text, norm, now); ok {
		e.Date = d
	}
	if t, ok := parseTime(text, req.ActiveSlot == slots.Time); ok {
		e.Time = t
	}
	if p, ok := parsePhone(maskDateTime(text), norm, req.ActiveSlot == slots.CustomerPhone, req.CallerNumber); ok {
		e.CustomerPhone = p
	}
	e.DeliveryType = parseDeliveryType(norm)
	if req.ActiveSlot == slots.Confirmation {
		e.Confirmation = parseConfirmation(norm)
	}
	asked := req.ActiveSlot == slots.CustomerName
	// A bare reply is only a name when it answered nothing else.
	e.CustomerName = parseName(text, asked, asked && e.Empty())
	e.Address = parseAddress(text, req.ActiveSlot == slots.Address)
	return e
}

func parseDate(raw, norm string, now time.Time) (string, bool) {
	if m := isoDateRE.FindStringSubmatch(raw); m != nil {
		if d, err := time.ParseInLocation("2006-01-02", m[0], now.Location()); err == nil {
			return d.Format("2006-01-02"), true
		}
	}
	if m := namedMonthRE.FindStringSubmatch(raw); m != nil {
		day, _ := strconv.Atoi(m[1])
		if d, ok := buildDate(now, 0, monthNames[strings.ToLower(m[2])], day); ok {
			return d, true
		}
	}
	if m := dayMonthRE.FindStringSubmatch(raw); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := 0
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		if month >= 1 && month <= 12 {
			if d, ok := buildDate(now, year, time.Month(month), day); ok {
				return d, true
			}
		}
	}

	padded := " " + norm + " "
	for _, rel := range relativeDays {
		if strings.Contains(padded, " "+rel.phrase+" ") {
			return now.AddDate(0, 0, rel.days).Format("2006-01-02"), true
		}
	}
	for _, word := range strings.Fields(norm) {
		if wd, ok := weekdayNames[word]; ok {
			delta := (int(wd) - int(now.Weekday()) + 7) % 7
			if delta == 0 {
				delta = 7
			}
			return now.AddDate(0, 0, delta).Format("2006-01-02"), true
		}
	}
	return "", false
}

// buildDate validates day/month; without a year the next occurrence from
// today is used.
func buildDate(now time.Time, year int, month time.Month, day int) (string, bool) {
	if day < 1 || day > 31 {
		return "", false
	}
	explicitYear := year != 0
	if !explicitYear {
		year = now.Year()
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	if d.Day() != day {
		return "", false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !explicitYear && d.Before(today) {
		d = d.AddDate(1, 0, 0)
	}
	return d.Format("2006-01-02"), true
}

// parseTime handles digit-led times. Bare hours from 1 to 7 are read as
// afternoon hours.
func parseTime(raw string, asked bool) (string, bool) {
	if m := clockRE.FindStringSubmatch(raw); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		return formatClock(h, min)
	}
	if m := meridiemRE.FindStringSubmatch(raw); m != nil {
		h, _ := strconv.Atoi(m[1])
		min := 0
		if m[2] != "" {
			min, _ = strconv.Atoi(m[2])
		}
		mer := strings.ToLower(strings.ReplaceAll(m[3], ".", ""))
		if h < 1 || h > 12 {
			return "", false
		}
		if mer == "pm" && h != 12 {
			h += 12
		}
		if mer == "am" && h == 12 {
			h = 0
		}
		return formatClock(h, min)
	}
	if m := uurRE.FindStringSubmatch(raw); m != nil {
		h, _ := strconv.Atoi(m[1])
		return formatClock(afternoon(h), 0)
	}
	if asked {
		if m := atHourRE.FindStringSubmatch(raw); m != nil {
			h, _ := strconv.Atoi(m[1])
			return formatClock(afternoon(h), 0)
		}
	}
	return "", false
}

func afternoon(h int) int {
	if h >= 1 && h <= 7 {
		return h + 12
	}
	return h
}

func formatClock(h, min int) (string, bool) {
	if h < 0 || h > 23 || min < 0 || min > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, min), true
}

// maskDateTime blanks out dates and clock times so that a date followed by
// a time never reads as one long digit run. Slash or dash dates are only
// masked when they stand alone, since phone numbers use the same separators.
func maskDateTime(raw string) string {
	for _, re := range []*regexp.Regexp{namedMonthRE, clockRE, meridiemRE, uurRE} {
		raw = re.ReplaceAllStringFunc(raw, mask)
	}
	for _, re := range []*regexp.Regexp{isoDateRE, dayMonthRE} {
		for _, loc := range re.FindAllStringIndex(raw, -1) {
			if standalone(raw, loc[0], loc[1]) {
				raw = raw[:loc[0]] + mask(raw[loc[0]:loc[1]]) + raw[loc[1]:]
			}
		}
	}
	return raw
}

func mask(s string) string {
	return strings.Repeat("|", len(s))
}

func standalone(s string, start, end int) bool {
	joins := func(b byte) bool {
		return (b >= '0' && b <= '9') || strings.IndexByte("-./", b) >= 0
	}
	if start > 0 && joins(s[start-1]) {
		return false
	}
	return end >= len(s) || !joins(s[end])
}

func parsePhone(raw, norm string, asked bool, callerNumber string) (string, bool) {
	if asked && callerNumber != "" && containsAny(" "+norm+" ", ownNumberPhrases) {
		return NormalizePhone(callerNumber), true
	}
	for _, m := range phoneRE.FindAllString(raw, -1) {
		if p := NormalizePhone(m); digitCount(p) >= 9 && digitCount(p) <= 15 {
			return p, true
		}
	}
	if asked {
		var digits strings.Builder
		for _, word := range strings.Fields(norm) {
			if d, ok := spokenDigits[word]; ok {
				digits.WriteString(d)
				continue
			}
			if isDigits(word) {
				digits.WriteString(word)
			}
		}
		if n := digits.Len(); n >= 9 && n <= 15 {
			return digits.String(), true
		}
	}
	return "", false
}

// NormalizePhone keeps digits and a leading plus; a 00 prefix becomes +.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	return out
}

func parseDeliveryType(norm string) string {
	padded := " " + norm + " "
	pickup := containsAny(padded, pickupPhrases)
	delivery := containsAny(padded, deliveryPhrases)
	switch {
	case pickup && !delivery:
		return slots.DeliveryPickup
	case delivery && !pickup:
		return slots.DeliveryDelivery
	}
	return ""
}

// parseConfirmation reads an explicit yes or no. A negated yes word ("niet
// goed", "klopt niet") is a no; a turn mixing yes words with an unrelated
// negation, or with an explicit no, is ambiguous and yields nil.
func parseConfirmation(norm string) *bool {
	words := strings.Fields(norm)
	var yes, no, negated, negation bool
	for i, w := range words {
		switch {
		case noWords[w]:
			no = true
		case negators[w]:
			before := i+1 < len(words) && yesWords[words[i+1]]
			after := (w == "niet" || w == "not") && i > 0 && yesWords[words[i-1]] && !interjections[words[i-1]]
			if before || after {
				negated = true
			} else {
				negation = true
			}
		case yesWords[w]:
			yes = true
		}
	}
	switch {
	case negated, no && !yes, negation && !yes:
		v := false
		return &v
	case no, negation:
		return nil
	case yes:
		v := true
		return &v
	}
	return nil
}

func parseName(raw string, asked, bare bool) string {
	if m := nameCueRE.FindStringSubmatch(raw); m != nil {
		if name := cleanName(m[1]); name != "" {
			return name
		}
	}
	if !asked {
		return ""
	}
	trimmed := strings.TrimSpace(raw)
	if m := weakNameCueRE.FindStringSubmatch(trimmed); m != nil {
		return cleanName(m[1])
	}
	if !bare {
		return ""
	}
	norm := catalog.Normalize(trimmed)
	words := strings.Fields(norm)
	if len(words) == 0 || len(words) > 3 || parseConfirmation(norm) != nil {
		return ""
	}
	return cleanName(trimmed)
}

// cleanName keeps up to three leading name words and title-cases them.
func cleanName(s string) string {
	var out []string
	for _, word := range strings.Fields(s) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		lower := strings.ToLower(word)
		if nameStopWords[lower] || strings.IndexFunc(word, unicode.IsDigit) >= 0 {
			break
		}
		out = append(out, titleCase(lower))
		if len(out) == 3 {
			break
		}
	}
	return strings.Join(out, " ")
}

func titleCase(word string) string {
	r := []rune(word)
	if len(r) == 0 {
		return word
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func parseAddress(raw string, asked bool) string {
	if m := addressCueRE.FindStringSubmatch(raw); m != nil {
		return strings.Trim(strings.TrimSpace(m[1]), ".,")
	}
	if !asked {
		return ""
	}
	hasDigit := strings.IndexFunc(raw, unicode.IsDigit) >= 0
	hasLetter := strings.IndexFunc(raw, unicode.IsLetter) >= 0
	if !hasDigit || !hasLetter {
		return ""
	}
	addr := strings.TrimSpace(raw)
	for _, prefix := range []string{"het is ", "dat is ", "op ", "naar ", "to ", "it's ", "it is "} {
		if strings.HasPrefix(strings.ToLower(addr), prefix) {
			addr = addr[len(prefix):]
		}
	}
	return strings.Trim(strings.TrimSpace(addr), ".,")
}

func containsAny(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
