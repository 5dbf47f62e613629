package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pagecourier/pagecourier/internal/cookies"
	"github.com/pagecourier/pagecourier/internal/engine"
	"github.com/pagecourier/pagecourier/internal/fetcher"
	"github.com/pagecourier/pagecourier/internal/loader"
	"github.com/pagecourier/pagecourier/internal/proxy"
)

var validate = validator.New()

type fetchRequest struct {
	URL     string  `json:"url" validate:"required,url"`
	WaitFor string  `json:"wait_for"`
	Timeout float64 `json:"timeout" validate:"min=0,max=300"` // seconds
	Proxy   string  `json:"proxy"`
}

type challengeInfo struct {
	Detected bool `json:"detected"`
	Solved   bool `json:"solved"`
	Retries  int  `json:"retries"`
}

type fetchResponse struct {
	Success   bool          `json:"success"`
	HTML      string        `json:"html"`
	Title     string        `json:"title,omitempty"`
	URL       string        `json:"url"`
	Proxy     string        `json:"proxy"`
	Elapsed   float64       `json:"elapsed"` // seconds
	Error     string        `json:"error,omitempty"`
	Status    string        `json:"status,omitempty"` // omitted while ok
	Challenge challengeInfo `json:"challenge"`
}

// proxyLabel renders a proxy key for API consumers; the direct session
// shows as "none".
func proxyLabel(key string) string {
	if key == "" {
		return "none"
	}
	return key
}

// parseProxyParam turns a request-supplied proxy value into an
// identity. "" and "none" mean the direct connection.
func parseProxyParam(raw string) (*proxy.Identity, error) {
	if raw == "" || raw == "none" {
		return nil, nil
	}
	return proxy.Parse(raw)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := parseProxyParam(req.Proxy)
	if err != nil {
		if errors.Is(err, proxy.ErrInvalidProxyURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid proxy URL")
		return
	}

	timeout := s.defaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}

	res := s.fetcher.Fetch(r.Context(), fetcher.Request{
		URL:     req.URL,
		WaitFor: req.WaitFor,
		Timeout: timeout,
		Proxy:   id,
	})

	resp := fetchResponse{
		Success: res.Success,
		HTML:    res.HTML,
		Title:   res.Title,
		URL:     res.FinalURL,
		Proxy:   proxyLabel(res.Proxy),
		Elapsed: res.Elapsed.Seconds(),
		Error:   res.Error,
		Challenge: challengeInfo{
			Detected: res.ChallengeDetected,
			Solved:   res.ChallengeSolved,
			Retries:  res.ChallengeRetries,
		},
	}
	if res.Status != loader.StatusOK {
		resp.Status = string(res.Status)
	}

	// Load failures are a fetch outcome, not an HTTP error.
	writeJSON(w, http.StatusOK, resp)
}

type browserStat struct {
	Proxy string `json:"proxy"`
	Tabs  int    `json:"tabs"`
}

type cookieKey struct {
	Domain string `json:"domain"`
	Proxy  string `json:"proxy"`
}

type statusResponse struct {
	Status        string        `json:"status"`
	MaxConcurrent int           `json:"max_concurrent"`
	Headless      bool          `json:"headless"`
	Browsers      []browserStat `json:"browsers"`
	CookieKeys    []cookieKey   `json:"cookie_keys"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := "stopped"
	if s.pool.Started() {
		status = "running"
	}
	resp := statusResponse{
		Status:        status,
		MaxConcurrent: s.pool.MaxConcurrent(),
		Headless:      s.pool.Headless(),
		Browsers:      []browserStat{},
		CookieKeys:    []cookieKey{},
	}
	for _, st := range s.pool.Stats() {
		resp.Browsers = append(resp.Browsers, browserStat{Proxy: proxyLabel(st.Proxy), Tabs: st.Tabs})
	}
	for _, k := range s.store.Keys() {
		resp.CookieKeys = append(resp.CookieKeys, cookieKey{Domain: k.Domain, Proxy: proxyLabel(k.Proxy)})
	}
	writeJSON(w, http.StatusOK, resp)
}

type cookiesResponse struct {
	Domain  string          `json:"domain"`
	Proxy   string          `json:"proxy"`
	Cookies []engine.Cookie `json:"cookies"`
}

func (s *Server) handleGetCookies(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain parameter required")
		return
	}

	id, err := parseProxyParam(r.URL.Query().Get("proxy"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jar := s.store.Load(domain, id)
	if jar == nil {
		jar = []engine.Cookie{}
	}
	writeJSON(w, http.StatusOK, cookiesResponse{
		Domain:  cookies.Domain(domain),
		Proxy:   proxyLabel(proxy.Key(id)),
		Cookies: jar,
	})
}

// handleClearCookies dispatches on which of domain and proxy were
// supplied: both narrow to one jar, either alone sweeps its scope,
// neither wipes the store.
func (s *Server) handleClearCookies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domain := q.Get("domain")
	hasProxy := q.Has("proxy")

	var id *proxy.Identity
	if hasProxy {
		var err error
		if id, err = parseProxyParam(q.Get("proxy")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var msg string
	switch {
	case domain != "" && hasProxy:
		s.store.ClearDomainProxy(domain, id)
		msg = fmt.Sprintf("Cookies cleared for %s via %s", cookies.Domain(domain), proxyLabel(proxy.Key(id)))
	case domain != "":
		s.store.ClearDomain(domain)
		msg = fmt.Sprintf("Cookies cleared for %s", cookies.Domain(domain))
	case hasProxy:
		s.store.ClearProxy(id)
		msg = fmt.Sprintf("Cookies cleared for proxy %s", proxyLabel(proxy.Key(id)))
	default:
		s.store.ClearAll()
		msg = "All cookies cleared"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
