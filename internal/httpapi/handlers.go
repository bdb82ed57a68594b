package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"rhythmflow.app/internal/auth"
	"rhythmflow.app/internal/booking"
	"rhythmflow.app/internal/obs"
)

const (
	serviceName  = "rhythmflow-api"
	maxBodyBytes = 1 << 20
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps wires the HTTP layer to the booking core.
type Deps struct {
	Service *booking.Service
	Admin   *booking.Admin
	Users   booking.Store
	Issuer  *auth.Issuer
	Ready   readinessChecker
	Version string

	DevTokens  bool
	TokenTTL   time.Duration
	RateBurst  int
	RatePerSec float64
	CORSOrigin string
}

// API is the HTTP transport.
type API struct {
	mux     *http.ServeMux
	svc     *booking.Service
	admin   *booking.Admin
	users   booking.Store
	issuer  *auth.Issuer
	ready   readinessChecker
	version string

	devTokens  bool
	tokenTTL   time.Duration
	rateBurst  int
	ratePerSec float64
	corsOrigin string
}

func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        d.Service,
		admin:      d.Admin,
		users:      d.Users,
		issuer:     d.Issuer,
		ready:      d.Ready,
		version:    d.Version,
		devTokens:  d.DevTokens,
		tokenTTL:   d.TokenTTL,
		rateBurst:  d.RateBurst,
		ratePerSec: d.RatePerSec,
		corsOrigin: d.CORSOrigin,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = 15 * time.Minute
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)

	adminOnly := RequireRole(booking.RoleAdmin)
	a.mux.HandleFunc("GET /v1/classes", a.listClasses)
	a.mux.Handle("POST /v1/classes", adminOnly(http.HandlerFunc(a.createClass)))
	a.mux.HandleFunc("GET /v1/classes/{id}", a.getClass)
	a.mux.Handle("PATCH /v1/classes/{id}", adminOnly(http.HandlerFunc(a.updateClass)))
	a.mux.Handle("DELETE /v1/classes/{id}", adminOnly(http.HandlerFunc(a.deleteClass)))
	a.mux.HandleFunc("POST /v1/classes/{id}/enrollments", a.enroll)
	a.mux.Handle("GET /v1/classes/{id}/enrollments", adminOnly(http.HandlerFunc(a.classRoster)))
	a.mux.Handle("GET /v1/classes/{id}/roster.xlsx", adminOnly(http.HandlerFunc(a.classRosterXLSX)))
	a.mux.HandleFunc("GET /v1/me/enrollments", a.myEnrollments)
	a.mux.HandleFunc("DELETE /v1/enrollments/{id}", a.cancelEnrollment)

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBodyBytes)
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigin)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       serviceName,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    a.version,
		"dev_tokens": a.devTokens,
	})
}

// --- helpers ---

func principal(r *http.Request) booking.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON value. The body size is capped by
// MaxBodyBytes in the handler chain.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeErrorCode(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, "", msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, code int, errCode, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if errCode != "" {
		payload["code"] = errCode
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func handleBookingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidClass):
		writeErrorCode(w, r, http.StatusBadRequest, "invalid_class", err.Error())
	case errors.Is(err, booking.ErrDuplicateEnrollment):
		writeErrorCode(w, r, http.StatusConflict, "already_enrolled", "Already enrolled")
	case errors.Is(err, booking.ErrCapacityExceeded):
		writeErrorCode(w, r, http.StatusConflict, "class_full", "Class is full")
	case errors.Is(err, booking.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
		writeErrorCode(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, booking.ErrForbidden):
		writeErrorCode(w, r, http.StatusForbidden, "forbidden", "insufficient role")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		obs.LogJSON(map[string]any{
			"level":      "error",
			"msg":        "unhandled error",
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("id"))
}
