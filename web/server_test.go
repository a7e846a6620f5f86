package web

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"sentrywallet/auth"
	"sentrywallet/authclient"
)

const testOrigin = "http://wallet.test"

type mailbox struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *mailbox) SendConfirmation(ctx context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = make(map[string]string)
	}
	m.links[to] = link
	return nil
}

func (m *mailbox) link(t *testing.T, to string) *url.URL {
	t.Helper()
	m.mu.Lock()
	raw, ok := m.links[to]
	m.mu.Unlock()
	require.True(t, ok, "no mail sent to %s", to)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type harness struct {
	t      *testing.T
	svc    *auth.Service
	mail   *mailbox
	server *Server
	http   *httptest.Server
	client *http.Client
}

type harnessOptions struct {
	autoConfirm bool
	providers   map[string]auth.OAuthProvider
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	mail := &mailbox{}
	svc := auth.NewService(auth.NewMemoryRepository(), auth.Options{
		JWTSecret:   "test-secret",
		AutoConfirm: opts.autoConfirm,
		ConfirmURL:  testOrigin + "/auth/confirm",
		Mailer:      mail,
		Providers:   opts.providers,
	})
	server, err := NewServer(Config{
		Origin:   testOrigin,
		Auth:     svc,
		Registry: authclient.NewRegistry(svc, authclient.Options{}),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		server.Close()
	})

	h := &harness{t: t, svc: svc, mail: mail, server: server, http: ts}
	h.client = h.newBrowser()
	return h
}

func (h *harness) newBrowser() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(h.t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: 10 * time.Second,
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) doc(t *testing.T) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.body))
	require.NoError(t, err)
	return doc
}

func (h *harness) request(client *http.Client, method, path string, form url.Values, htmx bool) response {
	h.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, h.http.URL+path, body)
	require.NoError(h.t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	resp, err := client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return response{status: resp.StatusCode, header: resp.Header, body: data}
}

func (h *harness) get(path string) response {
	return h.request(h.client, http.MethodGet, path, nil, false)
}

func (h *harness) post(path string, form url.Values) response {
	if form == nil {
		form = url.Values{}
	}
	return h.request(h.client, http.MethodPost, path, form, false)
}

func (h *harness) signUp(email, password string) {
	h.t.Helper()
	_, err := h.svc.SignUp(context.Background(), auth.SignUpRequest{Email: email, Password: password, FullName: "Test User"})
	require.NoError(h.t, err)
}

func credentials(email, password string) url.Values {
	return url.Values{"email": {email}, "password": {password}}
}

func TestSplashRedirectsToDashboard(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp := h.get("/")
	require.Equal(t, http.StatusOK, resp.status)
	content, ok := resp.doc(t).Find(`meta[http-equiv="refresh"]`).Attr("content")
	require.True(t, ok)
	assert.Equal(t, "2.5;url=/dashboard", content)
}

func TestDashboardRequiresSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp := h.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login", resp.header.Get("Location"))
}

func TestLoginRendersSignInForm(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp := h.get("/login")
	require.Equal(t, http.StatusOK, resp.status)
	doc := resp.doc(t)
	assert.Equal(t, "Sign In", strings.TrimSpace(doc.Find("h1.title").Text()))
	assert.Equal(t, "Sign in to your SentryWallet account", strings.TrimSpace(doc.Find("p.subtitle").Text()))
	assert.Zero(t, doc.Find("#fullName").Length())
	assert.Zero(t, doc.Find(".message").Length())
	assert.Equal(t, "Don't have an account? Sign Up", strings.TrimSpace(doc.Find("button.toggle-mode").Text()))
	inputType, _ := doc.Find("#password").Attr("type")
	assert.Equal(t, "password", inputType)

	var found bool
	for _, c := range resp.header.Values("Set-Cookie") {
		found = found || strings.HasPrefix(c, browserCookieName+"=")
	}
	assert.True(t, found, "expected browser cookie")
}

func TestLoginValidationKeepsUserOnForm(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.get("/login")

	resp := h.post("/login", url.Values{"email": {"alice@example.com"}})
	require.Equal(t, http.StatusOK, resp.status)
	doc := resp.doc(t)
	assert.Equal(t, "Password is required", strings.TrimSpace(doc.Find(".message").Text()))
	value, _ := doc.Find("#email").Attr("value")
	assert.Equal(t, "alice@example.com", value)
}

func TestLoginSignInNavigatesToDashboard(t *testing.T) {
	h := newHarness(t, harnessOptions{autoConfirm: true})
	h.signUp("alice@example.com", "secret123")
	h.get("/login")

	resp := h.post("/login", credentials("alice@example.com", "wrong"))
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Invalid login credentials", strings.TrimSpace(resp.doc(t).Find(".message").Text()))

	resp = h.post("/login", credentials("alice@example.com", "secret123"))
	require.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/dashboard", resp.header.Get("Location"))

	resp = h.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "alice@example.com", resp.doc(t).Find(".email").Text())

	// An authenticated browser opening the login page goes straight on.
	resp = h.get("/login")
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/dashboard", resp.header.Get("Location"))
}

func TestHTMXSubmitUsesHXRedirect(t *testing.T) {
	h := newHarness(t, harnessOptions{autoConfirm: true})
	h.signUp("bob@example.com", "secret123")
	h.get("/login")

	resp := h.request(h.client, http.MethodPost, "/login", credentials("bob@example.com", "secret123"), true)
	assert.Equal(t, http.StatusNoContent, resp.status)
	assert.Equal(t, "/dashboard", resp.header.Get("HX-Redirect"))
}

func TestModeToggleRendersSignUpFragment(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.get("/login")
	h.post("/login", url.Values{"email": {"carol@example.com"}})

	resp := h.request(h.client, http.MethodPost, "/login/mode", url.Values{}, true)
	require.Equal(t, http.StatusOK, resp.status)
	doc := resp.doc(t)
	assert.Zero(t, doc.Find("title").Length())
	assert.Equal(t, "sign_up", doc.Find("#login-form").AttrOr("data-mode", ""))
	assert.Equal(t, "Create Account", strings.TrimSpace(doc.Find("h1.title").Text()))
	assert.Equal(t, 1, doc.Find("#fullName").Length())
	assert.Equal(t, "Password must be at least 6 characters long", strings.TrimSpace(doc.Find("p.hint").Text()))
	assert.Zero(t, doc.Find(".message").Length())
	assert.Equal(t, "", doc.Find("#email").AttrOr("value", "missing"))
}

func TestSignUpConfirmationNavigatesOpenView(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.get("/login")
	h.post("/login/mode", nil)

	resp := h.post("/login", url.Values{
		"fullName": {"Dana Example"},
		"email":    {"dana@example.com"},
		"password": {"12345"},
	})
	assert.Equal(t, "Password must be at least 6 characters long", strings.TrimSpace(resp.doc(t).Find(".message").Text()))

	resp = h.post("/login", url.Values{
		"fullName": {"Dana Example"},
		"email":    {"dana@example.com"},
		"password": {"123456"},
	})
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Please check your email for confirmation link", strings.TrimSpace(resp.doc(t).Find(".message").Text()))

	status := h.request(h.client, http.MethodGet, "/login/status", nil, true)
	assert.Equal(t, http.StatusNoContent, status.status)
	assert.Empty(t, status.header.Get("HX-Redirect"))

	link := h.mail.link(t, "dana@example.com")
	resp = h.get(link.Path + "?" + link.RawQuery)
	require.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/dashboard", resp.header.Get("Location"))

	status = h.request(h.client, http.MethodGet, "/login/status", nil, true)
	assert.Equal(t, http.StatusNoContent, status.status)
	assert.Equal(t, "/dashboard", status.header.Get("HX-Redirect"))
}

func TestConfirmationLinkWorksOnce(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.signUp("erin@example.com", "secret123")
	link := h.mail.link(t, "erin@example.com")

	resp := h.get(link.RequestURI())
	require.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/dashboard", resp.header.Get("Location"))

	other := h.newBrowser()
	resp = h.request(other, http.MethodGet, link.RequestURI(), nil, false)
	require.Equal(t, http.StatusSeeOther, resp.status)
	loc, err := url.Parse(resp.header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
}

func TestNewServerRejectsUnusableBlockKey(t *testing.T) {
	svc := auth.NewService(auth.NewMemoryRepository(), auth.Options{JWTSecret: "test-secret"})
	_, err := NewServer(Config{
		Origin:         testOrigin,
		Auth:           svc,
		Registry:       authclient.NewRegistry(svc, authclient.Options{}),
		CookieBlockKey: bytes.Repeat([]byte{0xab}, 64),
	})
	require.ErrorIs(t, err, ErrInvalidCookieConfig)
}

func TestConfirmationLinkRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp := h.get("/auth/confirm?token=forged")
	require.Equal(t, http.StatusSeeOther, resp.status)
	loc, err := url.Parse(resp.header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)

	resp = h.get(loc.RequestURI())
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Email link is invalid or has expired", strings.TrimSpace(resp.doc(t).Find(".notice").Text()))
}

func TestPasswordVisibilityKeepsInputs(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.get("/login")
	h.post("/login", url.Values{"email": {"erin@example.com"}})

	resp := h.request(h.client, http.MethodPost, "/login/password-visibility", credentials("erin@example.com", "hunter2"), true)
	require.Equal(t, http.StatusOK, resp.status)
	doc := resp.doc(t)
	assert.Equal(t, "text", doc.Find("#password").AttrOr("type", ""))
	assert.Equal(t, "hunter2", doc.Find("#password").AttrOr("value", ""))
	assert.Equal(t, "Hide password", strings.TrimSpace(doc.Find("button.toggle-password").Text()))
	// The password edit dismissed the earlier error.
	assert.Zero(t, doc.Find(".message").Length())
}

func TestGoogleLoginDisabledShowsError(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.get("/login")

	resp := h.post("/login/google", nil)
	require.Equal(t, http.StatusOK, resp.status)
	doc := resp.doc(t)
	assert.Equal(t, "Error with Google login: Unsupported provider: provider is not enabled", strings.TrimSpace(doc.Find(".message").Text()))
	_, disabled := doc.Find("button.google").Attr("disabled")
	assert.False(t, disabled)
}

func TestFormStaysDisabledAfterGoogleRedirectStarts(t *testing.T) {
	h := newHarness(t, harnessOptions{providers: map[string]auth.OAuthProvider{
		"google": {
			Config: &oauth2.Config{
				ClientID:    "id",
				Endpoint:    oauth2.Endpoint{AuthURL: "http://provider.test/authorize", TokenURL: "http://provider.test/token"},
				RedirectURL: testOrigin + "/auth/callback",
			},
			UserInfoURL: "http://provider.test/userinfo",
		},
	}})
	h.get("/login")
	require.Equal(t, http.StatusSeeOther, h.post("/login/google", nil).status)

	resp := h.request(h.client, http.MethodPost, "/login/mode", url.Values{}, true)
	require.Equal(t, http.StatusOK, resp.status)
	doc := resp.doc(t)
	assert.Equal(t, "sign_up", doc.Find("#login-form").AttrOr("data-mode", ""))
	for _, sel := range []string{"button.submit", "button.google"} {
		_, disabled := doc.Find(sel).Attr("disabled")
		assert.True(t, disabled, sel)
	}
}

func TestGoogleLoginRoundTrip(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer"}`))
		case "/userinfo":
			_, _ = w.Write([]byte(`{"sub":"1","email":"frank@example.com","email_verified":true,"name":"Frank"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer provider.Close()

	h := newHarness(t, harnessOptions{providers: map[string]auth.OAuthProvider{
		"google": {
			Config: &oauth2.Config{
				ClientID:    "id",
				Endpoint:    oauth2.Endpoint{AuthURL: provider.URL + "/authorize", TokenURL: provider.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
				RedirectURL: testOrigin + "/auth/callback",
			},
			UserInfoURL: provider.URL + "/userinfo",
		},
	}})
	h.get("/login")

	resp := h.post("/login/google", nil)
	require.Equal(t, http.StatusSeeOther, resp.status)
	authURL, err := url.Parse(resp.header.Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL.String(), provider.URL+"/authorize"))
	assert.Equal(t, testOrigin+"/auth/callback", authURL.Query().Get("redirect_uri"))

	resp = h.get("/auth/callback?" + url.Values{"state": {authURL.Query().Get("state")}, "code": {"provider-code"}}.Encode())
	require.Equal(t, http.StatusSeeOther, resp.status)
	back, err := url.Parse(resp.header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, testOrigin+"/login", back.Scheme+"://"+back.Host+back.Path)
	require.NotEmpty(t, back.Query().Get("code"))

	resp = h.get(back.RequestURI())
	require.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/dashboard", resp.header.Get("Location"))

	resp = h.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "frank@example.com", resp.doc(t).Find(".email").Text())
}

func TestOAuthCallbackWithUnknownState(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp := h.get("/auth/callback?state=nope&code=x")
	require.Equal(t, http.StatusSeeOther, resp.status)
	loc, err := url.Parse(resp.header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "invalid_request", loc.Query().Get("error"))
}

func TestPostWithoutViewStartsOver(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	resp := h.post("/login", credentials("a@example.com", "pw"))
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login", resp.header.Get("Location"))

	resp = h.request(h.client, http.MethodPost, "/login/mode", url.Values{}, true)
	assert.Equal(t, http.StatusNoContent, resp.status)
	assert.Equal(t, "/login", resp.header.Get("HX-Redirect"))
}

func TestBrowsersAreIsolated(t *testing.T) {
	h := newHarness(t, harnessOptions{autoConfirm: true})
	h.signUp("gina@example.com", "secret123")
	h.get("/login")
	resp := h.post("/login", credentials("gina@example.com", "secret123"))
	require.Equal(t, http.StatusSeeOther, resp.status)

	other := h.newBrowser()
	resp = h.request(other, http.MethodGet, "/dashboard", nil, false)
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login", resp.header.Get("Location"))
}

func TestLogoutEndsSession(t *testing.T) {
	h := newHarness(t, harnessOptions{autoConfirm: true})
	h.signUp("hank@example.com", "secret123")
	h.get("/login")
	h.post("/login", credentials("hank@example.com", "secret123"))
	require.Equal(t, http.StatusOK, h.get("/dashboard").status)

	resp := h.post("/logout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.status)
	assert.Equal(t, "/login", resp.header.Get("Location"))

	resp = h.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.status)
}

func TestMetricsAndHealth(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.get("/login")
	h.post("/login", url.Values{"email": {"ivy@example.com"}})

	health := h.get("/healthz")
	assert.Equal(t, http.StatusOK, health.status)
	assert.Equal(t, "ok", string(health.body))

	metrics := h.get("/metrics")
	require.Equal(t, http.StatusOK, metrics.status)
	body := string(metrics.body)
	assert.Contains(t, body, `sentrywallet_login_submissions_total{mode="sign_in",outcome="invalid"} 1`)
	assert.Contains(t, body, "sentrywallet_login_active_views 1")
}

func TestReopeningLoginReplacesView(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.get("/login")
	h.get("/login")
	assert.Equal(t, 1, h.server.views.len())

	h.server.Close()
	assert.Zero(t, h.server.views.len())
}
