package model

import (
	"strings"
)

const (
	// HLSDirMarker is the reserved path segment under which HLS bundles live.
	HLSDirMarker = "/.hls/"
	// LegacyHLSSuffix marks directories produced by the previous HLS layout.
	LegacyHLSSuffix = "_hls/"

	// MetaFaststart is the user metadata key set once the moov atom precedes mdat.
	MetaFaststart = "faststart"
	// MetaOriginSHA1 records sha1(old_key) on objects written by a rename copy.
	MetaOriginSHA1 = "origin-sha1"

	ContentTypeMP4         = "video/mp4"
	ContentTypePlaylist    = "application/vnd.apple.mpegurl"
	ContentTypeTSSegment   = "video/MP2T"
	ContentTypeFMP4Segment = "video/iso.segment"

	ACLPublicRead = "public-read"
)

// IsHLSPath reports whether key lies inside a reserved HLS bundle path.
// Root-level bundles (".hls/...") are matched as well.
func IsHLSPath(key string) bool {
	k := "/" + strings.TrimPrefix(key, "/")
	return strings.Contains(k, HLSDirMarker) || strings.Contains(k, LegacyHLSSuffix)
}

// IsMP4 reports whether key names an MP4 object (case-insensitive extension).
func IsMP4(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".mp4")
}

// IsSourceVideo reports whether key may be treated as a Source Video.
func IsSourceVideo(key string) bool {
	return IsMP4(key) && !IsHLSPath(key)
}

// ObjectHead is the subset of object metadata the pipeline needs.
type ObjectHead struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	UserMetadata map[string]string
}

// Faststart reports whether the object carries faststart=true metadata.
func (h *ObjectHead) Faststart() bool {
	if h == nil {
		return false
	}
	for k, v := range h.UserMetadata {
		if strings.EqualFold(k, MetaFaststart) && v == "true" {
			return true
		}
	}
	return false
}

// MetaValue returns a user metadata value with case-insensitive key lookup.
func (h *ObjectHead) MetaValue(key string) string {
	if h == nil {
		return ""
	}
	for k, v := range h.UserMetadata {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// MergeMetadata returns a copy of base with overrides applied. Keys are
// compared case-insensitively so that store-normalized casing does not
// produce duplicates.
func MergeMetadata(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[strings.ToLower(k)] = v
	}
	for k, v := range overrides {
		out[strings.ToLower(k)] = v
	}
	return out
}
