package keys

import (
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// EncodeSoft percent-encodes key keeping "/-._~()" and ASCII alphanumerics.
// This is the encoding used for public URLs.
func EncodeSoft(key string) string {
	return escape(key, "/-._~()")
}

// EncodeStrict percent-encodes key keeping only "/-._~" and ASCII alphanumerics.
func EncodeStrict(key string) string {
	return escape(key, "/-._~")
}

func escape(s, safe string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlnum(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// MirrorHost swaps a leading "cdn." for "cloud." (and vice versa) in the
// host of base. It returns "" when base has neither prefix.
func MirrorHost(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(u.Host, "cdn."):
		u.Host = "cloud." + strings.TrimPrefix(u.Host, "cdn.")
	case strings.HasPrefix(u.Host, "cloud."):
		u.Host = "cdn." + strings.TrimPrefix(u.Host, "cloud.")
	default:
		return ""
	}
	return strings.TrimRight(u.String(), "/")
}

// JoinURL joins a host base URL and an already-encoded key.
func JoinURL(host, encodedKey string) string {
	return strings.TrimRight(host, "/") + "/" + strings.TrimLeft(encodedKey, "/")
}

// Hosts returns the public host followed by its mirror (if any).
func Hosts(publicHost string) []string {
	hosts := []string{strings.TrimRight(publicHost, "/")}
	if m := MirrorHost(publicHost); m != "" {
		hosts = append(hosts, m)
	}
	return hosts
}

// Form is one textual rendering of a key.
type Form struct {
	Label string
	Value string
}

// Forms enumerates every rendering of key that may appear in a stored
// reference, most specific first: JSON-escaped URLs, URLs, encoded keys,
// then the raw key. The order is stable for a given host list.
func Forms(key string, hosts []string) []Form {
	encodings := []struct {
		label string
		enc   string
	}{
		{"soft", EncodeSoft(key)},
		{"strict", EncodeStrict(key)},
	}

	var urls []Form
	for hi, h := range hosts {
		for _, e := range encodings {
			urls = append(urls, Form{
				Label: "url" + hostLabel(hi) + "_" + e.label,
				Value: JoinURL(h, e.enc),
			})
		}
	}

	forms := make([]Form, 0, 2*len(urls)+3)
	for _, u := range urls {
		forms = append(forms, Form{
			Label: "json_" + u.Label,
			Value: strings.ReplaceAll(u.Value, "/", `\/`),
		})
	}
	forms = append(forms, urls...)
	for _, e := range encodings {
		forms = append(forms, Form{Label: "key_" + e.label, Value: e.enc})
	}
	forms = append(forms, Form{Label: "key_raw", Value: key})
	return forms
}

func hostLabel(i int) string {
	if i == 0 {
		return "_cdn"
	}
	return "_mirror"
}

// Replacement is one old→new substitution applied by the reference rewriter.
type Replacement struct {
	Label string
	Old   string
	New   string
}

// Replacements pairs every form of oldKey with the same form of newKey.
// Pairs whose old value equals the new value, and repeated old values, are
// dropped; the remaining order matches Forms.
func Replacements(oldKey, newKey string, hosts []string) []Replacement {
	if oldKey == newKey {
		return nil
	}
	olds := Forms(oldKey, hosts)
	news := Forms(newKey, hosts)

	seen := make(map[string]bool, len(olds))
	out := make([]Replacement, 0, len(olds))
	for i := range olds {
		o, n := olds[i].Value, news[i].Value
		if o == n || o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, Replacement{Label: olds[i].Label, Old: o, New: n})
	}
	return out
}
