package web

import (
	"net/url"
	"strings"
	"sync"

	"sentrywallet/authclient"
	"sentrywallet/login"
)

// redirectArtifacts are the query parameters an OAuth return trip leaves in
// the address.
var redirectArtifacts = []string{"code", "state", "error", "error_description"}

// page is the server side stand-in for one rendered login page: its address
// bar and its outgoing navigations.
type page struct {
	origin string

	mu        sync.Mutex
	query     url.Values
	navigated string
	assigned  string
}

var (
	_ login.Browser       = (*page)(nil)
	_ login.Navigator     = (*page)(nil)
	_ authclient.Location = (*page)(nil)
)

func newPage(origin string, u *url.URL) *page {
	return &page{
		origin: strings.TrimRight(origin, "/"),
		query:  u.Query(),
	}
}

func (p *page) Origin() string { return p.origin }

func (p *page) HasRedirectArtifacts() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range redirectArtifacts {
		if p.query.Has(key) {
			return true
		}
	}
	return false
}

func (p *page) ReplaceState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range redirectArtifacts {
		p.query.Del(key)
	}
}

func (p *page) Navigate(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navigated == "" {
		p.navigated = path
	}
}

func (p *page) Query(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query.Get(key)
}

func (p *page) Assign(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assigned = u
}

// navigation returns the in-app route the page moved to, if any.
func (p *page) navigation() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigated
}

// takeAssigned returns and clears a pending external redirect.
func (p *page) takeAssigned() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.assigned
	p.assigned = ""
	return u
}
