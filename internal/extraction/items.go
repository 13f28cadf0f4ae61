package extraction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfman30/voice-receptionist/internal/catalog"
	"github.com/wolfman30/voice-receptionist/internal/slots"
)

var segmentSplitRE = regexp.MustCompile(`[,;]+`)

var quantityWords = map[string]int{
	"een": 1, "eentje": 1, "one": 1, "a": 1, "an": 1,
	"twee": 2, "two": 2, "drie": 3, "three": 3, "vier": 4, "four": 4,
	"vijf": 5, "five": 5, "zes": 6, "six": 6, "zeven": 7, "seven": 7,
	"acht": 8, "eight": 8, "negen": 9, "nine": 9, "tien": 10, "ten": 10,
	"elf": 11, "eleven": 11, "twaalf": 12, "twelve": 12,
}

var connectorWords = map[string]bool{"en": true, "and": true, "plus": true}

var modifierCues = map[string]bool{"met": true, "with": true, "zonder": false}

// fillerWords never make a segment count as an unrecognised item request.
var fillerWords = map[string]bool{
	"ik": true, "wil": true, "graag": true, "zou": true, "willen": true, "mag": true,
	"nog": true, "ook": true, "dan": true, "doe": true, "maar": true, "mij": true, "me": true,
	"alsjeblieft": true, "alstublieft": true, "aub": true, "dank": true, "u": true, "je": true,
	"dat": true, "is": true, "alles": true, "het": true, "de": true, "een": true, "voor": true,
	"bestellen": true, "hebben": true, "neem": true, "nemen": true, "euh": true, "uh": true, "uhm": true,
	"i": true, "want": true, "would": true, "like": true, "to": true, "order": true, "please": true,
	"can": true, "could": true, "have": true, "get": true, "the": true, "that": true, "all": true,
	"also": true, "and": true, "some": true, "of": true, "hallo": true, "hello": true, "hi": true,
	"goedendag": true, "dag": true, "ja": true, "yes": true, "ok": true, "oke": true, "so": true,
	"x": true, "keer": true, "stuks": true, "stuk": true, "times": true,
}

type draftItem struct {
	product  catalog.Item
	mods     []catalog.Item
	quantity int
}

// itemParse is the outcome of matching a transcript against the catalog.
type itemParse struct {
	items []slots.LineItem
	// unmatched counts segments that looked like a request but matched no
	// catalog product.
	unmatched int
}

// matchItems splits the transcript into item segments and fuzzy matches
// each against the catalog's products and modifiers.
func matchItems(transcript string, cat catalog.Catalog) itemParse {
	products := cat.Products()
	modifiers := cat.Modifiers()
	if len(products) == 0 {
		return itemParse{}
	}

	var drafts []draftItem
	var res itemParse
	for _, segment := range splitSegments(transcript) {
		words := strings.Fields(segment)
		if len(words) == 0 {
			continue
		}
		cut := len(words)
		for i, w := range words {
			if _, ok := modifierCues[w]; ok {
				cut = i
				break
			}
		}

		match, ok := catalog.BestMatch(words[:cut], products)
		if !ok {
			if mods := matchModifiers(words, modifiers); len(mods) > 0 && len(drafts) > 0 && onlyModifierWords(words) {
				last := &drafts[len(drafts)-1]
				last.mods = appendUnique(last.mods, mods...)
				continue
			}
			if !allFiller(words) {
				res.unmatched++
			}
			continue
		}

		d := draftItem{product: match.Item, quantity: quantityBefore(words[:match.Start])}
		if cut < len(words) && modifierCues[words[cut]] {
			d.mods = matchModifiers(words[cut+1:], modifiers)
		}
		drafts = append(drafts, d)
	}

	res.items = mergeLineItems(cat, drafts)
	return res
}

// splitSegments breaks on punctuation and connector words, normalizing
// each piece.
func splitSegments(transcript string) []string {
	var out []string
	for _, piece := range segmentSplitRE.Split(transcript, -1) {
		var current []string
		for _, w := range strings.Fields(catalog.Normalize(piece)) {
			if connectorWords[w] {
				if len(current) > 0 {
					out = append(out, strings.Join(current, " "))
				}
				current = nil
				continue
			}
			current = append(current, w)
		}
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
		}
	}
	return out
}

func matchModifiers(words []string, modifiers []catalog.Item) []catalog.Item {
	if len(modifiers) == 0 {
		return nil
	}
	rest := append([]string(nil), words...)
	var out []catalog.Item
	for len(rest) > 0 {
		m, ok := catalog.BestMatch(rest, modifiers)
		if !ok {
			break
		}
		out = appendUnique(out, m.Item)
		rest = append(rest[:m.Start:m.Start], rest[m.End:]...)
	}
	return out
}

// onlyModifierWords is true for segments like "ketchup" or "met ketchup"
// that continue the previous item's modifier list.
func onlyModifierWords(words []string) bool {
	for _, w := range words {
		if _, isCue := modifierCues[w]; isCue {
			continue
		}
		if _, isQty := quantityWords[w]; isQty {
			return false
		}
	}
	return true
}

// quantityBefore reads the nearest quantity word or number preceding the
// product; the default is one.
func quantityBefore(words []string) int {
	for i := len(words) - 1; i >= 0; i-- {
		w := strings.TrimSuffix(words[i], "x")
		if n, err := strconv.Atoi(w); err == nil && n > 0 && n <= 50 {
			return n
		}
		if n, ok := quantityWords[words[i]]; ok {
			return n
		}
	}
	return 1
}

func allFiller(words []string) bool {
	for _, w := range words {
		if fillerWords[w] {
			continue
		}
		if _, ok := quantityWords[w]; ok {
			continue
		}
		return false
	}
	return true
}

func appendUnique(dst []catalog.Item, items ...catalog.Item) []catalog.Item {
	for _, it := range items {
		dup := false
		for _, have := range dst {
			if have.Name == it.Name {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}

// mergeLineItems prices the drafts and folds identical lines together.
func mergeLineItems(cat catalog.Catalog, drafts []draftItem) []slots.LineItem {
	var out []slots.LineItem
	for _, d := range drafts {
		line := cat.LineItem(d.product, d.mods, d.quantity)
		merged := false
		for i := range out {
			if out[i].Label == line.Label && out[i].UnitPriceCents == line.UnitPriceCents {
				out[i].Quantity += line.Quantity
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, line)
		}
	}
	return out
}

// matchService finds the catalog service named in an appointment request.
func matchService(transcript string, cat catalog.Catalog) (string, bool) {
	words := strings.Fields(catalog.Normalize(transcript))
	if len(words) == 0 {
		return "", false
	}
	m, ok := catalog.BestMatch(words, cat.Products())
	if !ok {
		return "", false
	}
	return m.Item.Name, true
}
