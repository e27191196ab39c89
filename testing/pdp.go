package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// AuthorizeRequest is the body the policy decision point receives on /authorize.
type AuthorizeRequest struct {
	User     string         `json:"user"`
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context"`
}

// FakePDP is an in-process policy decision point. Unknown (user, resource, action)
// tuples get DefaultDecision.
type FakePDP struct {
	server *httptest.Server

	mu              sync.Mutex
	decisions       map[string]string
	defaultDecision string
	status          int
	rawBody         string
	delay           time.Duration
	bearer          string
	permissions     map[string]map[string]any
	permStatus      int
	requests        []AuthorizeRequest
	authHeaders     []string
}

func NewFakePDP() *FakePDP {
	p := &FakePDP{
		decisions:       map[string]string{},
		defaultDecision: "Deny",
		permissions:     map[string]map[string]any{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", p.handleAuthorize)
	mux.HandleFunc("/permissions/", p.handlePermissions)
	p.server = httptest.NewServer(mux)
	return p
}

func (p *FakePDP) Close() { p.server.Close() }

// URL is the endpoint base the policy client is configured with.
func (p *FakePDP) URL() string { return p.server.URL }

func (p *FakePDP) Allow(user, resource, action string) { p.set(user, resource, action, "Permit") }
func (p *FakePDP) Deny(user, resource, action string)  { p.set(user, resource, action, "Deny") }

// SetDecision records an arbitrary decision string, e.g. "NotApplicable".
func (p *FakePDP) SetDecision(user, resource, action, decision string) {
	p.set(user, resource, action, decision)
}

func (p *FakePDP) SetDefaultDecision(decision string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultDecision = decision
}

// SetStatus makes /authorize answer with status instead of 200.
func (p *FakePDP) SetStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// SetRawBody makes /authorize answer 200 with body verbatim.
func (p *FakePDP) SetRawBody(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rawBody = body
}

// SetDelay holds every response for d (or until the caller gives up).
func (p *FakePDP) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// RequireBearer rejects calls without "Authorization: Bearer <token>" with 401.
func (p *FakePDP) RequireBearer(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bearer = token
}

func (p *FakePDP) SetPermissions(user string, perms map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permissions[user] = perms
}

// SetPermissionsStatus makes /permissions/{id} answer with status.
func (p *FakePDP) SetPermissionsStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permStatus = status
}

// Requests returns the /authorize bodies received so far.
func (p *FakePDP) Requests() []AuthorizeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AuthorizeRequest(nil), p.requests...)
}

// AuthHeaders returns the Authorization headers seen on /authorize.
func (p *FakePDP) AuthHeaders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.authHeaders...)
}

func (p *FakePDP) set(user, resource, action, decision string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions[decisionKey(user, resource, action)] = decision
}

func decisionKey(user, resource, action string) string {
	return user + "\x00" + resource + "\x00" + action
}

func (p *FakePDP) wait(r *http.Request) bool {
	p.mu.Lock()
	d := p.delay
	p.mu.Unlock()
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-r.Context().Done():
		return false
	}
}

func (p *FakePDP) authorized(r *http.Request) bool {
	p.mu.Lock()
	want := p.bearer
	p.mu.Unlock()
	return want == "" || r.Header.Get("Authorization") == "Bearer "+want
}

func (p *FakePDP) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req AuthorizeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.authHeaders = append(p.authHeaders, r.Header.Get("Authorization"))
	status, raw := p.status, p.rawBody
	decision, ok := p.decisions[decisionKey(req.User, req.Resource, req.Action)]
	if !ok {
		decision = p.defaultDecision
	}
	p.mu.Unlock()

	if !p.wait(r) {
		return
	}
	if !p.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	if status != 0 && status != http.StatusOK {
		writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
		return
	}
	if raw != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(raw))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decision": decision})
}

func (p *FakePDP) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user := strings.TrimPrefix(r.URL.Path, "/permissions/")
	p.mu.Lock()
	perms, ok := p.permissions[user]
	status := p.permStatus
	p.mu.Unlock()

	if !p.wait(r) {
		return
	}
	if !p.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	if status != 0 && status != http.StatusOK {
		writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
		return
	}
	if !ok {
		perms = map[string]any{}
	}
	writeJSON(w, http.StatusOK, perms)
}
