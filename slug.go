package worldcities

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters that do not decompose under NFD
var transliterations = strings.NewReplacer(
	"ß", "ss", "ẞ", "SS",
	"ø", "o", "Ø", "O",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ł", "l", "Ł", "L",
	"đ", "d", "Đ", "D",
	"ð", "d", "Ð", "D",
	"þ", "th", "Þ", "TH",
	"ı", "i",
)

// Slugify turns a place name into a URL-safe identifier fragment:
// diacritics are stripped, opts.Remove characters deleted, and each run of
// other non-alphanumeric characters becomes a single hyphen.
//
//	Slugify("São Paulo", opts)  // "sao-paulo"
//	Slugify("St. John's", opts) // "st-johns"
func Slugify(s string, opts SlugOptions) string {
	// transformers carry state; build one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = transliterations.Replace(folded)

	if opts.Remove != "" {
		folded = strings.Map(func(r rune) rune {
			if strings.ContainsRune(opts.Remove, r) {
				return -1
			}
			return r
		}, folded)
	}
	if opts.Lower {
		folded = strings.ToLower(folded)
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range folded {
		if !slugRune(r, opts.Strict) {
			pendingHyphen = b.Len() > 0
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func slugRune(r rune, strict bool) bool {
	if strict {
		return r < unicode.MaxASCII && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// regionSlug builds the global identifier "<cc>-<slugified name>". It returns
// "" when the name has no slug-able characters.
func regionSlug(country, name string, opts SlugOptions) string {
	body := Slugify(name, opts)
	if body == "" {
		return ""
	}
	return strings.ToLower(country) + "-" + body
}
