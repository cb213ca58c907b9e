package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"usage-telemetry/internal/adapters/device"
	"usage-telemetry/internal/domain"
)

// Capture — публичный API захвата.
type Capture interface {
	Track(eventType domain.EventType, category string, opts domain.EventOptions)
	TrackFeature(feature, action string, metadata map[string]any)
	TrackClick(component, action string, metadata map[string]any)
	TrackFormSubmit(form string, metadata map[string]any)
	TrackSearch(query string, resultsCount int, metadata map[string]any)
	TrackError(component, message string, metadata map[string]any)
}

// PageLifecycle принимает навигацию и закрытие страницы.
type PageLifecycle interface {
	Navigate(loc domain.Location)
	Teardown()
}

// SignInOut выполняет вход и выход у провайдера идентификации.
type SignInOut interface {
	SignIn(userID string)
	SignOut()
}

// Заголовки, которыми UI сообщает параметры среды.
const (
	HeaderScreenSize    = "X-Screen-Size"
	HeaderViewportWidth = "X-Viewport-Width"
)

// CaptureHandler — локальный HTTP API агента для UI.
// Все запросы с корректным телом получают 202: сбои конвейера наружу не выходят.
type CaptureHandler struct {
	capture Capture
	page    PageLifecycle
	env     *device.Live
	auth    SignInOut
	log     zerolog.Logger
}

// NewCaptureHandler создаёт обработчик. auth может быть nil, тогда маршруты
// входа не регистрируются.
func NewCaptureHandler(capture Capture, page PageLifecycle, env *device.Live, auth SignInOut, logger zerolog.Logger) *CaptureHandler {
	return &CaptureHandler{capture: capture, page: page, env: env, auth: auth, log: logger}
}

// Mount регистрирует маршруты.
func (h *CaptureHandler) Mount(r chi.Router) {
	r.Group(func(api chi.Router) {
		api.Use(h.environmentMiddleware)

		api.Post("/v1/track", h.handleTrack)
		api.Post("/v1/track/feature", h.handleFeature)
		api.Post("/v1/track/click", h.handleClick)
		api.Post("/v1/track/form", h.handleForm)
		api.Post("/v1/track/search", h.handleSearch)
		api.Post("/v1/track/error", h.handleError)
		api.Post("/v1/navigation", h.handleNavigation)
		api.Post("/v1/teardown", h.handleTeardown)

		if h.auth != nil {
			api.Post("/v1/auth/signin", h.handleSignIn)
			api.Post("/v1/auth/signout", h.handleSignOut)
		}
	})
}

func (h *CaptureHandler) environmentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.env != nil {
			h.env.Update(environmentFromRequest(r))
		}
		next.ServeHTTP(w, r)
	})
}

func environmentFromRequest(r *http.Request) domain.Environment {
	env := domain.Environment{UserAgent: r.UserAgent()}
	if w, hgt, ok := device.ParseSize(r.Header.Get(HeaderScreenSize)); ok {
		env.ScreenWidth, env.ScreenHeight = w, hgt
	}
	if raw := strings.TrimSpace(r.Header.Get(HeaderViewportWidth)); raw != "" {
		if width, err := strconv.Atoi(raw); err == nil && width > 0 {
			env.ViewportWidth = width
		}
	}
	return env
}

type trackRequest struct {
	EventType     string         `json:"event_type"`
	EventCategory string         `json:"event_category"`
	PagePath      string         `json:"page_path"`
	PageTitle     string         `json:"page_title"`
	Component     string         `json:"component"`
	Action        string         `json:"action"`
	Metadata      map[string]any `json:"metadata"`
	DurationMs    *int64         `json:"duration_ms"`
}

type featureRequest struct {
	Feature  string         `json:"feature"`
	Action   string         `json:"action"`
	Metadata map[string]any `json:"metadata"`
}

type clickRequest struct {
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata"`
}

type formRequest struct {
	Form     string         `json:"form"`
	Metadata map[string]any `json:"metadata"`
}

type searchRequest struct {
	Query        string         `json:"query"`
	ResultsCount int            `json:"results_count"`
	Metadata     map[string]any `json:"metadata"`
}

type errorRequest struct {
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
}

type signInRequest struct {
	UserID string `json:"user_id"`
}

func (h *CaptureHandler) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decode(w, r, &req) {
		return
	}
	eventType, err := domain.ParseEventType(req.EventType)
	if err != nil {
		h.log.Debug().Str("event_type", req.EventType).Msg("capture: неизвестный тип события")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DurationMs != nil && *req.DurationMs < 0 {
		writeError(w, http.StatusBadRequest, "duration_ms must be non-negative")
		return
	}
	h.capture.Track(eventType, req.EventCategory, domain.EventOptions{
		PagePath:   req.PagePath,
		PageTitle:  req.PageTitle,
		Component:  req.Component,
		Action:     req.Action,
		Metadata:   req.Metadata,
		DurationMs: req.DurationMs,
	})
	accepted(w)
}

func (h *CaptureHandler) handleFeature(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if !decode(w, r, &req) {
		return
	}
	h.capture.TrackFeature(req.Feature, req.Action, req.Metadata)
	accepted(w)
}

func (h *CaptureHandler) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if !decode(w, r, &req) {
		return
	}
	h.capture.TrackClick(req.Component, req.Action, req.Metadata)
	accepted(w)
}

func (h *CaptureHandler) handleForm(w http.ResponseWriter, r *http.Request) {
	var req formRequest
	if !decode(w, r, &req) {
		return
	}
	h.capture.TrackFormSubmit(req.Form, req.Metadata)
	accepted(w)
}

func (h *CaptureHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	h.capture.TrackSearch(req.Query, req.ResultsCount, req.Metadata)
	accepted(w)
}

func (h *CaptureHandler) handleError(w http.ResponseWriter, r *http.Request) {
	var req errorRequest
	if !decode(w, r, &req) {
		return
	}
	h.capture.TrackError(req.Component, req.Message, req.Metadata)
	accepted(w)
}

func (h *CaptureHandler) handleNavigation(w http.ResponseWriter, r *http.Request) {
	var loc domain.Location
	if !decode(w, r, &loc) {
		return
	}
	if strings.TrimSpace(loc.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	h.page.Navigate(loc)
	accepted(w)
}

func (h *CaptureHandler) handleTeardown(w http.ResponseWriter, r *http.Request) {
	h.page.Teardown()
	accepted(w)
}

func (h *CaptureHandler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	h.auth.SignIn(strings.TrimSpace(req.UserID))
	accepted(w)
}

func (h *CaptureHandler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	h.auth.SignOut()
	accepted(w)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func accepted(w http.ResponseWriter) {
	w.WriteHeader(http.StatusAccepted)
}
