package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"sentrywallet/login"
	"sentrywallet/observability"
)

//go:embed templates/*.html
var templateFiles embed.FS

type renderer struct {
	pages map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	r := &renderer{pages: make(map[string]*template.Template)}
	for _, name := range []string{"splash", "login", "dashboard"} {
		tmpl, err := template.ParseFS(templateFiles, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("web: parse %s template: %w", name, err)
		}
		r.pages[name] = tmpl
	}
	return r, nil
}

// render executes a page (or one of its fragments) into a buffer first so a
// template error never leaves a half written response.
func (rn *renderer) render(w http.ResponseWriter, r *http.Request, page, fragment string, status int, data any) {
	tmpl, ok := rn.pages[page]
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, fragment, data); err != nil {
		observability.FromContext(r.Context()).Error("render template",
			zap.String("page", page), zap.String("fragment", fragment), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type splashData struct {
	PageTitle    string
	DelaySeconds string
	Next         string
}

type dashboardData struct {
	PageTitle string
	Email     string
	FullName  string
}

type loginData struct {
	PageTitle         string
	Mode              string
	Status            string
	SignUp            bool
	Title             string
	Subtitle          string
	SubmitLabel       string
	ToggleLabel       string
	Message           string
	Notice            string
	Email             string
	FullName          string
	Password          string
	ShowPassword      bool
	Submitting        bool
	MinPasswordLength int
}

func newLoginData(state login.State, notice string) loginData {
	d := loginData{
		PageTitle:         "Sign In",
		Mode:              state.Mode.String(),
		Status:            state.Status.String(),
		SignUp:            state.Mode == login.ModeSignUp,
		Title:             "Sign In",
		Subtitle:          "Sign in to your SentryWallet account",
		SubmitLabel:       "Sign In",
		ToggleLabel:       "Don't have an account? Sign Up",
		Message:           state.Message,
		Notice:            notice,
		Email:             state.Credentials.Email,
		FullName:          state.Credentials.FullName,
		Password:          state.Credentials.Password,
		ShowPassword:      state.ShowPassword,
		Submitting:        state.Submitting() || state.Busy,
		MinPasswordLength: login.MinSignUpPasswordLength,
	}
	if d.SignUp {
		d.PageTitle = "Create Account"
		d.Title = "Create Account"
		d.Subtitle = "Create your SentryWallet account to get started"
		d.SubmitLabel = "Create Account"
		d.ToggleLabel = "Already have an account? Sign In"
	}
	return d
}
