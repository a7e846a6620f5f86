package web

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"sentrywallet/auth"
	"sentrywallet/login"
	"sentrywallet/observability"
)

// handleLoginPage activates a fresh login view for the browser. It waits for
// the session lookup so an authenticated browser goes straight on to the
// dashboard; otherwise the form is rendered.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	id := browserID(r.Context())
	logger := observability.FromContext(r.Context())

	pg := newPage(s.origin, r.URL)
	view := login.NewView(login.Config{
		Client:    s.registry.Client(id, pg),
		Browser:   pg,
		Navigator: pg,
		Logger:    logger,
	})
	act := &activation{view: view, page: pg}
	s.views.put(id, act)
	s.metrics.activeViews.Inc()
	view.Activate(s.baseCtx)

	timer := time.NewTimer(s.settleTimeout)
	defer timer.Stop()
	select {
	case <-view.Settled():
	case <-timer.C:
		logger.Debug("session lookup still pending, rendering form")
	case <-r.Context().Done():
		return
	}

	if s.followNavigation(w, r, act, "session") {
		return
	}
	s.renderLogin(w, r, act, noticeFrom(r.URL.Query()))
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	act, ok := s.activeView(w, r)
	if !ok {
		return
	}
	form := act.view.Form()
	applyFields(r, form)

	err := form.Submit(r.Context())
	state := form.State()
	outcome := state.Status.String()
	var verr *login.ValidationError
	switch {
	case errors.Is(err, login.ErrBusy):
		outcome = "busy"
	case errors.As(err, &verr):
		outcome = "invalid"
	}
	s.metrics.submissions.WithLabelValues(state.Mode.String(), outcome).Inc()

	if s.followNavigation(w, r, act, "form") {
		return
	}
	s.renderLogin(w, r, act, "")
}

func (s *Server) handleLoginMode(w http.ResponseWriter, r *http.Request) {
	act, ok := s.activeView(w, r)
	if !ok {
		return
	}
	act.view.Form().ToggleMode()
	s.renderLogin(w, r, act, "")
}

func (s *Server) handlePasswordVisibility(w http.ResponseWriter, r *http.Request) {
	act, ok := s.activeView(w, r)
	if !ok {
		return
	}
	form := act.view.Form()
	applyFields(r, form)
	form.TogglePasswordVisibility()
	s.renderLogin(w, r, act, "")
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	act, ok := s.activeView(w, r)
	if !ok {
		return
	}
	if err := act.view.Form().GoogleLogin(r.Context()); errors.Is(err, login.ErrBusy) {
		s.renderLogin(w, r, act, "")
		return
	}

	if target := act.page.takeAssigned(); target != "" {
		s.metrics.oauthStarts.WithLabelValues(login.ProviderGoogle, "redirected").Inc()
		redirect(w, r, target)
		return
	}
	s.metrics.oauthStarts.WithLabelValues(login.ProviderGoogle, "failed").Inc()
	s.renderLogin(w, r, act, "")
}

// handleLoginStatus is polled by the rendered page so navigations triggered
// by auth events after the page was served reach the browser.
func (s *Server) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	act := s.views.get(browserID(r.Context()))
	if act == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if target := act.page.navigation(); target != "" {
		s.views.remove(browserID(r.Context()), act)
		s.metrics.navigations.WithLabelValues("event").Inc()
		w.Header().Set("HX-Redirect", target)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := s.auth.CompleteOAuth(r.Context(), auth.CallbackParams{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		observability.FromContext(r.Context()).Warn("oauth callback rejected", zap.Error(err))
		v := url.Values{}
		v.Set("error", "invalid_request")
		v.Set("error_description", "Your sign-in link has expired. Please try again.")
		http.Redirect(w, r, login.Path+"?"+v.Encode(), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// handleConfirmEmail redeems the confirmation link. The confirming browser is
// signed in, which also moves its open login view along.
func (s *Server) handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	client := s.registry.Client(browserID(r.Context()), nil)
	if _, err := client.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		v := url.Values{}
		v.Set("error", "access_denied")
		var perr *login.ProviderError
		if errors.As(err, &perr) {
			v.Set("error_description", perr.Message)
		} else {
			observability.FromContext(r.Context()).Error("email confirmation failed", zap.Error(err))
			v.Set("error_description", "An unexpected error occurred")
		}
		http.Redirect(w, r, login.Path+"?"+v.Encode(), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, login.DashboardPath, http.StatusSeeOther)
}

// activeView returns the browser's login view, sending the browser to a
// fresh one when it has none.
func (s *Server) activeView(w http.ResponseWriter, r *http.Request) (*activation, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return nil, false
	}
	act := s.views.get(browserID(r.Context()))
	if act == nil {
		redirect(w, r, login.Path)
		return nil, false
	}
	return act, true
}

// followNavigation redirects when the view has navigated. The view is done
// at that point and is torn down.
func (s *Server) followNavigation(w http.ResponseWriter, r *http.Request, act *activation, via string) bool {
	target := act.page.navigation()
	if target == "" {
		return false
	}
	s.views.remove(browserID(r.Context()), act)
	s.metrics.navigations.WithLabelValues(via).Inc()
	redirect(w, r, target)
	return true
}

// renderLogin renders the form with 200 in every state: htmx only swaps
// successful responses and failures are part of the form.
func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, act *activation, notice string) {
	data := newLoginData(act.view.Form().State(), notice)
	if HTMXInfoFromContext(r.Context()).IsHTMX {
		s.renderer.render(w, r, "login", "login_form", http.StatusOK, data)
		return
	}
	s.renderer.render(w, r, "login", "layout", http.StatusOK, data)
}

// applyFields copies posted inputs into the form. Unchanged values are not
// re-applied so an error stays visible until the user edits something.
func applyFields(r *http.Request, form *login.Form) {
	creds := form.State().Credentials
	current := map[login.Field]string{
		login.FieldEmail:    creds.Email,
		login.FieldPassword: creds.Password,
		login.FieldFullName: creds.FullName,
	}
	for field, old := range current {
		values, ok := r.PostForm[string(field)]
		if !ok || len(values) == 0 || values[0] == old {
			continue
		}
		form.SetField(field, values[0])
	}
}

func noticeFrom(q url.Values) string {
	return q.Get("error_description")
}
