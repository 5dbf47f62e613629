package cookies

import (
	"testing"

	"github.com/pagecourier/pagecourier/internal/engine"
	"github.com/pagecourier/pagecourier/internal/proxy"
)

func mustProxy(t *testing.T, raw string) *proxy.Identity {
	t.Helper()
	id, err := proxy.Parse(raw)
	if err != nil {
		t.Fatalf("proxy.Parse(%q): %v", raw, err)
	}
	return id
}

func jar(names ...string) []engine.Cookie {
	out := make([]engine.Cookie, 0, len(names))
	for _, n := range names {
		out = append(out, engine.Cookie{Name: n, Value: n + "-value", Domain: "example.com", Path: "/"})
	}
	return out
}

func TestDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://example.com/page", "example.com"},
		{"https://Example.COM/page", "example.com"},
		{"https://example.com:8443/page", "example.com:8443"},
		{"example.com/page", "example.com"},
		{"example.com", "example.com"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := Domain(tc.in); got != tc.want {
			t.Errorf("Domain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStore_SaveLoad_RoundTrip(t *testing.T) {
	s := NewStore()
	saved := jar("session", "csrf")

	s.Save("https://example.com/page", nil, saved)
	got := s.Load("https://example.com/other", nil)

	if len(got) != 2 || got[0].Name != "session" || got[1].Name != "csrf" {
		t.Fatalf("Load() returned unexpected jar: %+v", got)
	}

	// The returned jar is a copy: mutating it must not touch the store.
	got[0].Value = "tampered"
	again := s.Load("https://example.com/", nil)
	if again[0].Value != "session-value" {
		t.Error("Load() should return a copy, not the stored slice")
	}
}

func TestStore_Save_ReplacesNotMerges(t *testing.T) {
	s := NewStore()

	s.Save("https://example.com", nil, jar("a", "b"))
	s.Save("https://example.com", nil, jar("c"))

	got := s.Load("https://example.com", nil)
	if len(got) != 1 || got[0].Name != "c" {
		t.Fatalf("second Save() should fully replace the jar, got %+v", got)
	}
}

func TestStore_Load_MissingKey(t *testing.T) {
	s := NewStore()
	if got := s.Load("https://example.com", nil); got != nil {
		t.Errorf("Load() on empty store should return nil, got %+v", got)
	}
}

func TestStore_ProxyIsolation(t *testing.T) {
	s := NewStore()
	p1 := mustProxy(t, "http://proxy-a.example.com:8080")
	p2 := mustProxy(t, "http://proxy-b.example.com:8080")

	s.Save("https://example.com", nil, jar("direct"))
	s.Save("https://example.com", p1, jar("via-a"))
	s.Save("https://example.com", p2, jar("via-b"))

	if got := s.Load("https://example.com", nil); len(got) != 1 || got[0].Name != "direct" {
		t.Errorf("direct jar polluted: %+v", got)
	}
	if got := s.Load("https://example.com", p1); len(got) != 1 || got[0].Name != "via-a" {
		t.Errorf("proxy-a jar polluted: %+v", got)
	}
	if got := s.Load("https://example.com", p2); len(got) != 1 || got[0].Name != "via-b" {
		t.Errorf("proxy-b jar polluted: %+v", got)
	}
}

func TestStore_ClearDomainProxy(t *testing.T) {
	s := NewStore()
	p := mustProxy(t, "http://proxy.example.com:8080")

	s.Save("https://example.com", nil, jar("direct"))
	s.Save("https://example.com", p, jar("proxied"))

	s.ClearDomainProxy("https://example.com", p)

	if got := s.Load("https://example.com", p); got != nil {
		t.Errorf("proxied jar should be cleared, got %+v", got)
	}
	if got := s.Load("https://example.com", nil); len(got) != 1 {
		t.Errorf("direct jar should survive, got %+v", got)
	}
}

func TestStore_ClearDomain_AllProxies(t *testing.T) {
	s := NewStore()
	p := mustProxy(t, "http://proxy.example.com:8080")

	s.Save("https://example.com", nil, jar("direct"))
	s.Save("https://example.com", p, jar("proxied"))
	s.Save("https://other.test", nil, jar("other"))

	s.ClearDomain("https://example.com")

	if got := s.Load("https://example.com", nil); got != nil {
		t.Errorf("direct example.com jar should be cleared, got %+v", got)
	}
	if got := s.Load("https://example.com", p); got != nil {
		t.Errorf("proxied example.com jar should be cleared, got %+v", got)
	}
	if got := s.Load("https://other.test", nil); len(got) != 1 {
		t.Errorf("other.test jar should survive, got %+v", got)
	}
}

func TestStore_ClearProxy(t *testing.T) {
	s := NewStore()
	p := mustProxy(t, "http://proxy.example.com:8080")

	s.Save("https://example.com", p, jar("a"))
	s.Save("https://other.test", p, jar("b"))
	s.Save("https://example.com", nil, jar("direct"))

	s.ClearProxy(p)

	if len(s.Keys()) != 1 {
		t.Fatalf("expected only the direct jar to remain, keys: %+v", s.Keys())
	}
	if got := s.Load("https://example.com", nil); len(got) != 1 {
		t.Errorf("direct jar should survive, got %+v", got)
	}
}

func TestStore_ClearAll(t *testing.T) {
	s := NewStore()
	p := mustProxy(t, "http://proxy.example.com:8080")

	s.Save("https://example.com", nil, jar("a"))
	s.Save("https://other.test", p, jar("b"))

	s.ClearAll()

	if keys := s.Keys(); len(keys) != 0 {
		t.Errorf("store should be empty after ClearAll, keys: %+v", keys)
	}
}

func TestStore_Keys_SortedSnapshot(t *testing.T) {
	s := NewStore()
	p := mustProxy(t, "http://proxy.example.com:8080")

	s.Save("https://bbb.test", nil, jar("x"))
	s.Save("https://aaa.test", p, jar("y"))
	s.Save("https://aaa.test", nil, jar("z"))

	keys := s.Keys()
	want := []Key{
		{Domain: "aaa.test", Proxy: ""},
		{Domain: "aaa.test", Proxy: "http://proxy.example.com:8080"},
		{Domain: "bbb.test", Proxy: ""},
	}

	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %+v, want %+v", i, keys[i], want[i])
		}
	}
}

func TestStore_Save_EmptyJarRemovesEntry(t *testing.T) {
	s := NewStore()

	s.Save("https://example.com", nil, jar("a"))
	s.Save("https://example.com", nil, nil)

	if keys := s.Keys(); len(keys) != 0 {
		t.Errorf("saving an empty jar should drop the key, keys: %+v", keys)
	}
}
