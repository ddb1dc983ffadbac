// Package hls parses and writes the playlists of an HLS bundle and computes
// where a source video's bundle lives in the bucket.
package hls

import (
	"errors"
	"fmt"
	"strings"
)

const (
	headerTag     = "#EXTM3U"
	streamInfTag  = "#EXT-X-STREAM-INF"
	mapTag        = "#EXT-X-MAP:"
	defaultBWidth = 2000000
)

// ErrNotPlaylist is returned when a body does not start with the playlist header.
var ErrNotPlaylist = errors.New("not an HLS playlist")

// Playlist is the parsed content of a master or media playlist.
// A master that lists segments directly has Segments and no Variants.
type Playlist struct {
	Variants    []string
	Segments    []string
	InitSegment string
}

// IsMaster reports whether the playlist references variant playlists.
func (p *Playlist) IsMaster() bool {
	return len(p.Variants) > 0
}

// Parse reads an m3u8 body. Variant lines are the URI lines following a
// stream-info tag (or any .m3u8 URI); segments are .ts and .m4s URIs.
func Parse(body string) (*Playlist, error) {
	lines := splitLines(body)
	first := ""
	for _, l := range lines {
		if l != "" {
			first = l
			break
		}
	}
	if !strings.HasPrefix(first, headerTag) {
		return nil, ErrNotPlaylist
	}

	p := &Playlist{}
	expectVariant := false
	for _, line := range lines {
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, streamInfTag):
			expectVariant = true
		case strings.HasPrefix(line, mapTag):
			p.InitSegment = attr(line[len(mapTag):], "URI")
		case strings.HasPrefix(line, "#"):
			continue
		case expectVariant:
			p.Variants = append(p.Variants, line)
			expectVariant = false
		case IsSegment(line):
			p.Segments = append(p.Segments, line)
		case strings.HasSuffix(stripQuery(line), ".m3u8"):
			p.Variants = append(p.Variants, line)
		}
	}
	return p, nil
}

// IsSegment reports whether uri names a media segment.
func IsSegment(uri string) bool {
	u := strings.ToLower(stripQuery(uri))
	return strings.HasSuffix(u, ".ts") || strings.HasSuffix(u, ".m4s")
}

// AliasTarget returns the first non-comment, non-blank line of an alias
// playlist, which is the URL of the master it forwards to.
func AliasTarget(body string) (string, error) {
	if _, err := Parse(body); err != nil {
		return "", err
	}
	for _, line := range splitLines(body) {
		if line != "" && !strings.HasPrefix(line, "#") {
			return line, nil
		}
	}
	return "", fmt.Errorf("alias playlist has no target")
}

// BuildAlias returns a minimal playlist forwarding to masterURL.
func BuildAlias(masterURL string) string {
	var b strings.Builder
	b.WriteString(headerTag + "\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("%s:BANDWIDTH=%d\n", streamInfTag, defaultBWidth))
	b.WriteString(masterURL)
	b.WriteString("\n")
	return b.String()
}

// BuildMaster returns a single-variant master playlist referencing variant.
// version 7 is required when the variant uses fMP4 segments.
func BuildMaster(variant string, bandwidth int, version int) string {
	if bandwidth <= 0 {
		bandwidth = defaultBWidth
	}
	if version <= 0 {
		version = 3
	}

	var b strings.Builder
	b.WriteString(headerTag + "\n")
	b.WriteString(fmt.Sprintf("#EXT-X-VERSION:%d\n", version))
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	b.WriteString(fmt.Sprintf("%s:BANDWIDTH=%d\n", streamInfTag, bandwidth))
	b.WriteString(variant)
	b.WriteString("\n")
	return b.String()
}

func splitLines(body string) []string {
	body = strings.TrimPrefix(body, "\ufeff")
	raw := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}

func stripQuery(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		return uri[:i]
	}
	return uri
}

// attr extracts a quoted or bare attribute value from an attribute list.
func attr(list, name string) string {
	for _, part := range strings.Split(list, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(k, name) {
			continue
		}
		return strings.Trim(v, `"`)
	}
	return ""
}
