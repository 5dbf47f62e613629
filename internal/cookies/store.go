// Package cookies keeps per-(domain, proxy) cookie jars so repeat
// fetches reuse the cookies a site handed out earlier. Jars for the
// same domain reached through different proxies are kept apart: sites
// can bind a session to its egress IP, so mixing jars across proxies
// would hand out cookies the site will reject.
package cookies

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/pagecourier/pagecourier/internal/engine"
	"github.com/pagecourier/pagecourier/internal/proxy"
)

// Key identifies one cookie jar.
type Key struct {
	Domain string
	Proxy  string // canonical proxy server, "" for direct connections
}

// Store is a concurrency-safe map of cookie jars. Entries live for the
// process lifetime; Clear* are the only removal paths.
type Store struct {
	mu   sync.Mutex
	jars map[Key][]engine.Cookie
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{jars: make(map[Key][]engine.Cookie)}
}

// Domain extracts the jar domain from a URL: the lowercased host[:port]
// part. Inputs without a host fall back to the first path segment, so a
// bare "example.com" or "example.com/path" still maps to a usable
// domain. Never fails.
func Domain(rawURL string) string {
	rest := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		if u.Host != "" {
			return strings.ToLower(u.Host)
		}
		if u.Opaque != "" {
			rest = u.Opaque
		} else {
			rest = u.Path
		}
	}
	rest = strings.TrimPrefix(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}

func keyFor(rawURL string, id *proxy.Identity) Key {
	return Key{Domain: Domain(rawURL), Proxy: proxy.Key(id)}
}

// Load returns a copy of the jar for (domain of url, proxy), or nil if
// none is stored.
func (s *Store) Load(rawURL string, id *proxy.Identity) []engine.Cookie {
	key := keyFor(rawURL, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	jar, ok := s.jars[key]
	if !ok {
		return nil
	}
	return append([]engine.Cookie(nil), jar...)
}

// Save replaces the jar for (domain of url, proxy) with the given
// cookies. The browser's snapshot is authoritative, so this is a full
// overwrite, never a merge. Saving an empty jar removes the entry.
func (s *Store) Save(rawURL string, id *proxy.Identity, cookies []engine.Cookie) {
	key := keyFor(rawURL, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cookies) == 0 {
		delete(s.jars, key)
		return
	}
	s.jars[key] = append([]engine.Cookie(nil), cookies...)
}

// ClearDomainProxy removes the single jar for (domain of url, proxy).
func (s *Store) ClearDomainProxy(rawURL string, id *proxy.Identity) {
	key := keyFor(rawURL, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jars, key)
}

// ClearDomain removes the domain's jars across every proxy, the direct
// jar included.
func (s *Store) ClearDomain(rawURL string) {
	domain := Domain(rawURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.jars {
		if key.Domain == domain {
			delete(s.jars, key)
		}
	}
}

// ClearProxy removes every jar stored for the given proxy (nil clears
// the direct-connection jars).
func (s *Store) ClearProxy(id *proxy.Identity) {
	proxyKey := proxy.Key(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.jars {
		if key.Proxy == proxyKey {
			delete(s.jars, key)
		}
	}
}

// ClearAll empties the store.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jars = make(map[Key][]engine.Cookie)
}

// Keys returns a snapshot of all populated jar keys, sorted for stable
// output.
func (s *Store) Keys() []Key {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.jars))
	for key := range s.jars {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Domain != keys[j].Domain {
			return keys[i].Domain < keys[j].Domain
		}
		return keys[i].Proxy < keys[j].Proxy
	})
	return keys
}
