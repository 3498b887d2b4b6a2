// Package api serves the dashboard's JSON endpoints and the platform
// sign-in flow.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bitable-report/internal/domain"
)

const (
	stateCookieName = "report_oauth_state"
	stateCookieTTL  = 10 * time.Minute
)

// ReportService serves cached or live reports.
type ReportService interface {
	GetReport(ctx context.Context, sess *domain.Session, kind domain.ReportKind, rng domain.Range) (*domain.Report, error)
	Refresh(ctx context.Context, sess *domain.Session, kind domain.ReportKind, rng domain.Range) (*domain.Report, error)
}

// CustomerFinder looks customers up by phone number.
type CustomerFinder interface {
	FindByPhone(ctx context.Context, sess *domain.Session, phone string) (*domain.CustomerProfile, error)
}

// Authorizer installs a session credential from an authorization code.
type Authorizer interface {
	Authorize(ctx context.Context, sess *domain.Session, code string) (*domain.Credential, error)
}

// ConsentURLer builds the platform consent page URL.
type ConsentURLer interface {
	AuthCodeURL(state string) string
}

// SessionCookies issues and clears the session cookie.
type SessionCookies interface {
	Issue(w http.ResponseWriter, id string) error
	Clear(w http.ResponseWriter)
}

// Deps are the services behind the handlers.
type Deps struct {
	Reports   ReportService
	Customers CustomerFinder
	Auth      Authorizer
	Consent   ConsentURLer
	Cookies   SessionCookies
	// EndSession destroys a session's credential and cached reports.
	EndSession func(sessionID string)
	// SecureCookies marks the OAuth state cookie Secure.
	SecureCookies bool
	Logger        *slog.Logger
}

// Handler implements the HTTP endpoints.
type Handler struct {
	Deps
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	sess, ok := domain.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, h.Logger, &domain.NoCredentialError{})
		return nil, false
	}
	return sess, true
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/oauth",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.Consent.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	c, err := r.Cookie(stateCookieName)
	if err != nil || c.Value == "" || c.Value != r.URL.Query().Get("state") {
		writeError(w, r, h.Logger, domain.ErrValidation("oauth state mismatch"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/oauth", MaxAge: -1, HttpOnly: true})

	cred, err := h.Auth.Authorize(r.Context(), sess, r.URL.Query().Get("code"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authorized": true, "expires_at": cred.ExpiresAt})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.EndSession(sess.ID)
	h.Cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reportParams(w http.ResponseWriter, r *http.Request) (domain.ReportKind, domain.Range, bool) {
	kind, err := domain.ParseReportKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return "", "", false
	}
	rng, err := domain.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return "", "", false
	}
	return kind, rng, true
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	kind, rng, ok := h.reportParams(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.GetReport(r.Context(), sess, kind, rng)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) refreshReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	kind, rng, ok := h.reportParams(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.Refresh(r.Context(), sess, kind, rng)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) findCustomer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	profile, err := h.Customers.FindByPhone(r.Context(), sess, r.URL.Query().Get("phone"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
