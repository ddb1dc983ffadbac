package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hszk-dev/vidmaint/internal/keys"
)

// PublicURL returns the CDN URL of key using the soft percent-encoding.
func (c *Client) PublicURL(key string) string {
	return keys.JoinURL(c.publicHost, keys.EncodeSoft(key))
}

// KeyFromURLOrKey accepts a bare key, a CDN URL (public or mirror host), or
// an endpoint URL with the bucket in the path, and returns the decoded key
// without a leading slash.
func (c *Client) KeyFromURLOrKey(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty video reference")
	}

	lower := strings.ToLower(input)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		key, err := url.PathUnescape(input)
		if err != nil {
			key = input
		}
		return nonEmpty(strings.TrimLeft(key, "/"), input)
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid video url %q: %w", input, err)
	}

	for _, host := range keys.Hosts(c.publicHost) {
		if key, ok := stripBase(u, host); ok {
			return nonEmpty(key, input)
		}
	}

	if c.endpoint != nil && c.endpoint.Host != "" {
		if strings.EqualFold(u.Host, c.endpoint.Host) {
			if key, ok := strings.CutPrefix(strings.TrimLeft(u.Path, "/"), c.bucket+"/"); ok {
				return nonEmpty(key, input)
			}
		}
		if strings.EqualFold(u.Host, c.bucket+"."+c.endpoint.Host) {
			return nonEmpty(strings.TrimLeft(u.Path, "/"), input)
		}
	}

	return "", fmt.Errorf("url %q does not belong to the bucket hosts", input)
}

// stripBase returns the path of u below base when u is served by base.
func stripBase(u *url.URL, base string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil || !strings.EqualFold(u.Host, b.Host) {
		return "", false
	}
	basePath := strings.Trim(b.Path, "/")
	p := strings.TrimLeft(u.Path, "/")
	if basePath == "" {
		return p, true
	}
	return strings.CutPrefix(p, basePath+"/")
}

func nonEmpty(key, input string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("no object key in %q", input)
	}
	return key, nil
}
