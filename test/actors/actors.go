package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sentrywallet/auth"
	"sentrywallet/authclient"
	"sentrywallet/login"
)

// Counters tallies what the actors observed; the stress test reports it.
type Counters struct {
	SignUps      atomic.Int64
	Duplicates   atomic.Int64
	Navigations  atomic.Int64
	PageVisits   atomic.Int64
	TransientErr atomic.Int64
}

func (c *Counters) String() string {
	return fmt.Sprintf("signups=%d duplicates=%d navigations=%d visits=%d transient=%d",
		c.SignUps.Load(), c.Duplicates.Load(), c.Navigations.Load(), c.PageVisits.Load(), c.TransientErr.Load())
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

// SignUpRacer registers the same small set of emails over and over, so
// several racers compete for each address. Exactly one account per address
// may survive; the duplicate-email oracle checks that.
func SignUpRacer(ctx context.Context, svc *auth.Service, emails []string, c *Counters, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		email := emails[rand.Intn(len(emails))]
		// Vary the case to exercise case-insensitive uniqueness.
		if rand.Intn(2) == 0 {
			email = strings.ToUpper(email)
		}
		_, err := svc.SignUp(ctx, auth.SignUpRequest{Email: email, Password: "hunter22", FullName: "Racer"})
		switch {
		case err == nil:
			c.SignUps.Add(1)
		case errors.Is(err, auth.ErrDuplicateEmail):
			c.Duplicates.Add(1)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			// Chaos kills backends; the next attempt gets a fresh connection.
			c.TransientErr.Add(1)
		}
		pause(5, 15)
	}
}

type recordingPage struct {
	origin string
	mu     sync.Mutex
	paths  []string
}

func (p *recordingPage) Origin() string             { return p.origin }
func (p *recordingPage) HasRedirectArtifacts() bool { return false }
func (p *recordingPage) ReplaceState()              {}

func (p *recordingPage) Navigate(path string) {
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()
}

func (p *recordingPage) navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

// NavigationRacer opens a login view and, at the same time, submits the
// form and signs the same browser in from a second tab. The session lookup,
// the SIGNED_IN event and the form success all race to navigate; the view
// must leave for the dashboard exactly once.
func NavigationRacer(ctx context.Context, reg *authclient.Registry, email, password string, c *Counters, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		browser := uuid.NewString()
		page := &recordingPage{origin: "http://sentrywallet.test"}
		view := login.NewView(login.Config{
			Client:    reg.Client(browser, nil),
			Browser:   page,
			Navigator: page,
		})
		form := view.Form()
		form.SetField(login.FieldEmail, email)
		form.SetField(login.FieldPassword, password)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = form.Submit(ctx)
		}()
		go func() {
			defer wg.Done()
			pause(0, 3)
			_, _ = reg.Client(browser, nil).SignInWithPassword(ctx, email, password)
		}()
		view.Activate(ctx)
		wg.Wait()
		<-view.Settled()

		got := page.navigations()
		signedIn, err := reg.Client(browser, nil).GetSession(ctx)
		view.Teardown()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || signedIn == nil {
			c.TransientErr.Add(1)
			continue
		}
		if len(got) != 1 || got[0] != login.DashboardPath {
			return fmt.Errorf("navigation race: browser %s navigated %v", browser, got)
		}
		c.Navigations.Add(1)
		_ = reg.Client(browser, nil).SignOut(ctx)
	}
}

// PageVisitor drives the HTTP surface like a real browser: open the login
// page, sign in, check the dashboard, sign out.
func PageVisitor(ctx context.Context, baseURL, email, password string, c *Counters, stop <-chan struct{}) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	do := func(method, path string, form url.Values) (*http.Response, error) {
		var body *strings.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		} else {
			body = strings.NewReader("")
		}
		req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		resp.Body.Close()
		return resp, nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		resp, err := do(http.MethodGet, login.Path, nil)
		if err != nil {
			if terr := transient(ctx, c); terr != nil {
				return terr
			}
			continue
		}
		if resp.StatusCode == http.StatusSeeOther {
			// The previous sign out never reached the server.
			_, _ = do(http.MethodPost, "/logout", url.Values{})
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("page visitor: GET /login while signed out returned %d", resp.StatusCode)
		}

		resp, err = do(http.MethodPost, login.Path, url.Values{"email": {email}, "password": {password}})
		if err != nil {
			if terr := transient(ctx, c); terr != nil {
				return terr
			}
			continue
		}
		if resp.StatusCode != http.StatusSeeOther {
			// A killed backend surfaces as a form error; try again.
			c.TransientErr.Add(1)
			pause(20, 30)
			continue
		}
		if loc := resp.Header.Get("Location"); loc != login.DashboardPath {
			return fmt.Errorf("page visitor: sign-in redirected to %q", loc)
		}

		resp, err = do(http.MethodGet, login.Path, nil)
		if err != nil {
			if terr := transient(ctx, c); terr != nil {
				return terr
			}
			continue
		}
		if resp.StatusCode == http.StatusOK {
			// The session lookup hit a killed backend and fell back to the form.
			c.TransientErr.Add(1)
		} else if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != login.DashboardPath {
			return fmt.Errorf("page visitor: signed-in GET /login returned %d to %q", resp.StatusCode, resp.Header.Get("Location"))
		}

		if _, err := do(http.MethodPost, "/logout", url.Values{}); err != nil {
			if terr := transient(ctx, c); terr != nil {
				return terr
			}
			continue
		}
		c.PageVisits.Add(1)
		pause(10, 20)
	}
}

func transient(ctx context.Context, c *Counters) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.TransientErr.Add(1)
	return nil
}
