package hls

import (
	"path"
	"strings"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/keys"
)

// MasterName is the file name of every master playlist in a bundle.
const MasterName = "playlist.m3u8"

// VariantName is the media playlist name produced by a rebuild.
const VariantName = "index.m3u8"

// Bundle locates the HLS bundle of one source video.
type Bundle struct {
	SourceKey       string
	CanonicalPrefix string
	LegacyPrefix    string
}

// PlanBundle computes the canonical and legacy prefixes for sourceKey.
// The legacy slug is the normalized basename stem; the canonical slug
// appends sha1(sourceKey)[:8].
func PlanBundle(sourceKey string) Bundle {
	dir, base := path.Split(strings.TrimPrefix(sourceKey, "/"))
	stem := strings.TrimSuffix(base, path.Ext(base))

	legacy := keys.Slug(stem)
	canonical := legacy + "-" + keys.ShortHash(sourceKey, 8)

	root := strings.TrimPrefix(dir+strings.TrimPrefix(model.HLSDirMarker, "/"), "/")
	return Bundle{
		SourceKey:       sourceKey,
		CanonicalPrefix: root + canonical + "/",
		LegacyPrefix:    root + legacy + "/",
	}
}

func (b Bundle) CanonicalMaster() string {
	return b.CanonicalPrefix + MasterName
}

func (b Bundle) LegacyMaster() string {
	return b.LegacyPrefix + MasterName
}

// IsAbsoluteURL reports whether ref is an http(s) URL rather than a path.
func IsAbsoluteURL(ref string) bool {
	r := strings.ToLower(ref)
	return strings.HasPrefix(r, "http://") || strings.HasPrefix(r, "https://")
}

// ResolveRef resolves a relative playlist reference against the key of the
// playlist that contains it. Query strings are dropped.
func ResolveRef(playlistKey, ref string) string {
	ref = stripQuery(ref)
	if strings.HasPrefix(ref, "/") {
		return strings.TrimPrefix(path.Clean(ref), "/")
	}
	return strings.TrimPrefix(path.Join(path.Dir(playlistKey), ref), "/")
}

// ContentTypeFor returns the content type for a bundle file name.
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8":
		return model.ContentTypePlaylist
	case ".ts":
		return model.ContentTypeTSSegment
	case ".m4s":
		return model.ContentTypeFMP4Segment
	case ".mp4":
		return model.ContentTypeMP4
	default:
		return "application/octet-stream"
	}
}
