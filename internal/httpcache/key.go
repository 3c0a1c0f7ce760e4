package httpcache

import (
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
)

// DefaultKeyHeaders lists the request headers that take part in cache keys.
var DefaultKeyHeaders = []string{"User-Agent"}

// Hasher digests normalized request descriptors into keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Descriptor renders the normalized request descriptor: method, URL without
// fragment and with lower-cased scheme and host, then the selected headers
// in canonical, sorted order.
func Descriptor(method string, u *url.URL, header http.Header, keyHeaders []string) string {
	var b strings.Builder
	if method == "" {
		method = http.MethodGet
	}
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(normalizeURL(u))

	names := make([]string, 0, len(keyHeaders))
	for _, h := range keyHeaders {
		names = append(names, textproto.CanonicalMIMEHeaderKey(h))
	}
	sort.Strings(names)
	for _, name := range names {
		values := header.Values(name)
		if len(values) == 0 {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strings.Join(values, ","))
	}
	return b.String()
}

func normalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clone := *u
	clone.Scheme = strings.ToLower(clone.Scheme)
	clone.Host = strings.ToLower(clone.Host)
	clone.Fragment = ""
	clone.RawFragment = ""
	if clone.Path == "" {
		clone.Path = "/"
	}
	return clone.String()
}
