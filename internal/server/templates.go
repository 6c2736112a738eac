package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/matheuscscp/praise-prison/internal/logging"
	"github.com/matheuscscp/praise-prison/internal/praise"
)

const (
	pageLanding   = "landing"
	pageDashboard = "dashboard"
	pagePraise    = "praise"
	pageError     = "error"
)

var (
	//go:embed templates/*.gohtml
	templateFS embed.FS

	//go:embed static
	embeddedStatic embed.FS
)

func staticFS() fs.FS {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// parsePages pairs every page with the shared layout.
func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{pageLanding, pageDashboard, pagePraise, pageError} {
		t, err := template.ParseFS(templateFS, "templates/layout.gohtml", "templates/"+name+".gohtml")
		if err != nil {
			return nil, fmt.Errorf("failed to parse page template '%s': %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

func (a *api) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	var buf bytes.Buffer
	if err := a.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		logging.FromRequest(r).WithError(err).WithField("page", page).Error("failed to render page")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		logging.FromRequest(r).WithError(err).Error("failed to write response")
	}
}

type landingPage struct {
	Configured bool
	LoginURL   string
	LoginLabel string
}

type errorPage struct {
	Emoji   string
	Title   string
	Message string
	Detail  string
	Action  string
}

type praiseRow struct {
	Keyword string
	Message string
	To      string
	When    string
}

type dashboardPage struct {
	Nickname   string
	ShareLink  string
	Keywords   []praise.Keyword
	Received   []praiseRow
	Sent       []praiseRow
	LoadFailed bool
}

const (
	praiseStepOwn   = "own"
	praiseStepGuest = "guest"
	praiseStepForm  = "form"
	praiseStepDone  = "done"
)

type praisePage struct {
	Step             string
	ReceiverNickname string
	FormURL          string
	LoginURL         string
	LoginLabel       string
	GuestURL         string
	Keyword          string
	Message          string
	Alert            string

	MinKeywordLen int
	MaxKeywordLen int
	MinMessageLen int
	MaxMessageLen int
}
