// Package keys turns raw object keys into canonical ASCII-safe keys and
// enumerates the textual forms a key takes inside stored references.
package keys

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// cyrillic maps lowercase Cyrillic letters (Russian and Ukrainian) to Latin.
var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	'і': "i", 'ї': "yi", 'є': "ye", 'ґ': "g",
}

// Canonicalize returns the canonical form of key. It is pure and
// deterministic: Canonicalize(Canonicalize(k)) == Canonicalize(k).
func Canonicalize(key string) string {
	decoded, err := url.PathUnescape(key)
	if err != nil {
		decoded = key
	}

	raw := splitSegments(decoded)
	out := make([]string, 0, len(raw))
	for i, seg := range raw {
		if i == len(raw)-1 {
			out = append(out, normalizeBasename(seg))
			continue
		}
		out = append(out, normalizeDir(seg))
	}
	return strings.Join(out, "/")
}

// WithCollisionSuffix inserts "-" + sha1(original)[:8] before the extension
// of the last segment of canonical.
func WithCollisionSuffix(canonical, original string) string {
	suffix := "-" + ShortHash(original, 8)
	dir, base := splitLast(canonical)
	stem, ext := splitExt(base)
	if ext != "" {
		base = stem + suffix + "." + ext
	} else {
		base += suffix
	}
	if dir == "" {
		return base
	}
	return dir + "/" + base
}

// ShortHash returns the first n hex characters of sha1(s).
func ShortHash(s string, n int) string {
	sum := sha1.Sum([]byte(s))
	h := hex.EncodeToString(sum[:])
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}

// Slug normalizes a single free-form name (no slashes) the way directory
// segments are normalized. Empty results fall back to the 12-char hash.
func Slug(s string) string {
	return normalizeDir(s)
}

func splitSegments(key string) []string {
	parts := strings.Split(key, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		segs = append(segs, p)
	}
	return segs
}

func normalizeDir(seg string) string {
	if n := normalizeSegment(seg); n != "" {
		return n
	}
	return ShortHash(seg, 12)
}

// normalizeBasename repeats normalizeBasenameOnce until the output no longer
// changes. Dropping an unsafe or empty extension can leave a dot or dash that
// moves the split point on the next pass. Each repeat either shortens the
// output or lands on a dotless hash, so the loop ends.
func normalizeBasename(seg string) string {
	out := normalizeBasenameOnce(seg)
	for {
		next := normalizeBasenameOnce(out)
		if next == out {
			return out
		}
		out = next
	}
}

func normalizeBasenameOnce(seg string) string {
	stem, ext := splitExt(seg)
	base := normalizeSegment(stem)
	if base == "" {
		base = ShortHash(seg, 12)
	}
	if ext == "" {
		return base
	}
	if e := normalizeSegment(ext); e != "" {
		return base + "." + e
	}
	return base
}

// splitExt splits at the last dot unless the dot starts the segment.
func splitExt(seg string) (string, string) {
	i := strings.LastIndex(seg, ".")
	if i <= 0 {
		return seg, ""
	}
	return seg[:i], seg[i+1:]
}

func splitLast(key string) (string, string) {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}

func normalizeSegment(seg string) string {
	s := norm.NFC.String(seg)
	s = strings.ToLower(s)
	s = transliterate(s)
	s = stripMarks(s)

	var b strings.Builder
	pendingDash := false
	for _, r := range s {
		if isSafe(r) {
			if pendingDash {
				b.WriteByte('-')
				pendingDash = false
			}
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	if pendingDash {
		b.WriteByte('-')
	}

	out := strings.Trim(collapseDashes(b.String()), "-")
	if out == "." || out == ".." {
		return ""
	}
	return out
}

func transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if lat, ok := cyrillic[r]; ok {
			b.WriteString(lat)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isSafe(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
}

func collapseDashes(s string) string {
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}
