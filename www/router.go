package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"logosnode/engine"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
	eventHub *EventHub
}

// NewRouter builds the operator surface: a JSON API plus an SSE stream.
// The returned cleanup stops the SSE hub.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	hub := NewEventHub()
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: hub,
	}
	h.ensureDefaultAdmin(eng.DB())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// SSE
	r.Get("/events", hub.SSEHandler)

	// Session management
	r.Post("/api/login", h.handleLogin)
	r.Post("/api/logout", h.handleLogout)

	// Read API, no auth required
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.apiStatus)
		r.Get("/mirrors", h.apiMirrors)
		r.Get("/tasks", h.apiTasks)
		r.Get("/tasks/detail", h.apiTaskDetail)
		r.Get("/peers", h.apiPeers)
		r.Get("/health", h.apiHealth)
	})

	// Admin API
	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/api/messages", h.apiMessages)
		r.Get("/api/admin/tickets", h.apiTickets)
		r.Post("/api/admin/drain", h.apiDrain)
		r.Post("/api/admin/resume", h.apiResume)
		r.Post("/api/admin/mirrors/evict", h.apiEvictMirror)
	})

	return r, hub.Stop
}
