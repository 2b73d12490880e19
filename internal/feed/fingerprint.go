package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// Fingerprint is the dedup key of an item within its feed.
type Fingerprint struct {
	FeedURL string
	Key     string
}

func (f Fingerprint) String() string {
	return f.FeedURL + " " + f.Key
}

// FingerprintOf derives an item's key: the feed-native id when present,
// otherwise the normalized item URL, otherwise a hash of title and
// publication date.
func FingerprintOf(feedURL string, it *Item) Fingerprint {
	fp := Fingerprint{FeedURL: feedURL}

	if id := strings.TrimSpace(it.ID); id != "" {
		fp.Key = "id:" + id
		return fp
	}
	if u := it.URL(); strings.TrimSpace(u) != "" {
		fp.Key = "url:" + NormalizeURL(u)
		return fp
	}

	pub := ""
	if it.Published != nil {
		pub = it.Published.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(it.Title) + "|" + pub))
	fp.Key = "sha256:" + hex.EncodeToString(sum[:])
	return fp
}

// NormalizeURL lowercases scheme and host, drops default ports and the
// fragment. Unparseable input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
