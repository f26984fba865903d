package www

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"fleetwatch/engine"
	"fleetwatch/logbuf"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
	tokens   *tokenCodec
	eventHub *EventHub
	gateway  *Gateway
	logs     *logbuf.Ring
	runCtx   context.Context
}

// NewRouter builds the HTTP surface. ctx bounds background work started
// from a request, such as the simulation loop. logs backs the logs API and
// may be nil.
func NewRouter(ctx context.Context, eng *engine.Engine, logs *logbuf.Ring) (http.Handler, func()) {
	hub := NewEventHub()
	hub.Start()
	hub.SetupEngineListeners(eng)

	web := eng.AppConfig().Web
	tokens := newTokenCodec(web.TokenSecret, web.TokenTTL)
	gateway := NewGateway(eng, tokens, web.PingInterval)

	if logs == nil {
		logs = logbuf.New(eng.AppConfig().Log.BufferSize)
	}

	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(web.SessionSecret),
		tokens:   tokens,
		eventHub: hub,
		gateway:  gateway,
		logs:     logs,
		runCtx:   ctx,
	}

	h.ensureDemoUser(eng.DB())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.jsonError(w, "Not found", http.StatusNotFound)
	})

	// Streaming endpoints sit outside the compressor.
	r.Handle("/ws", gateway)
	r.Get("/events", hub.SSEHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/health", h.apiHealthCheck)
		r.Handle("/metrics", eng.Metrics().Handler())

		r.Route("/api", func(r chi.Router) {
			// Public
			r.Get("/health", h.apiHealthCheck)
			r.Post("/auth/register", h.apiRegister)
			r.Post("/auth/login", h.apiLogin)
			r.Get("/simulation/status", h.apiSimulationStatus)
			r.Get("/presence", h.apiPresence)

			// Protected
			r.Group(func(r chi.Router) {
				r.Use(h.requireAuth)

				r.Get("/auth/me", h.apiMe)
				r.Post("/auth/logout", h.apiLogout)

				r.Route("/robots", func(r chi.Router) {
					r.Get("/", h.apiListRobots)
					r.Post("/", h.apiCreateRobot)
					r.Get("/dispatches", h.apiActiveDispatches)
					r.Post("/generate-patrol", h.apiGeneratePatrol)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", h.apiGetRobot)
						r.Patch("/", h.apiUpdateRobot)
						r.Delete("/", h.apiDeleteRobot)
						r.Post("/move", h.apiMoveRobot)
						r.Get("/trail", h.apiRobotTrail)
						r.Get("/history", h.apiRobotHistory)
						r.Post("/dispatch", h.apiDispatchRobot)
						r.Post("/assign-zone", h.apiAssignZone)
						r.Get("/routes", h.apiListRoutes)
						r.Post("/routes", h.apiCreateRoute)
						r.Patch("/routes/{routeId}", h.apiUpdateRoute)
						r.Post("/routes/{routeId}/activate", h.apiActivateRoute)
						r.Delete("/routes/{routeId}", h.apiDeleteRoute)
						r.Post("/patrol", h.apiSetPatrol)
						r.Delete("/patrol", h.apiClearPatrol)
					})
				})

				r.Route("/zones", func(r chi.Router) {
					r.Get("/", h.apiListZones)
					r.Post("/", h.apiCreateZone)
					r.Get("/{id}", h.apiGetZone)
					r.Patch("/{id}", h.apiUpdateZone)
					r.Delete("/{id}", h.apiDeleteZone)
				})

				r.Route("/events", func(r chi.Router) {
					r.Get("/", h.apiListEvents)
					r.Post("/", h.apiCreateEvent)
					r.Post("/alarm", h.apiCreateAlarm)
					r.Post("/{id}/dispatch", h.apiDispatchClosest)
				})

				r.Get("/replay", h.apiReplayAll)
				r.Get("/replay/{robotId}", h.apiReplayRobot)

				r.Post("/simulation/start", h.apiSimulationStart)
				r.Post("/simulation/stop", h.apiSimulationStop)
				r.Patch("/simulation/config", h.apiSimulationConfig)

				r.Get("/logs", h.apiLogs)
				r.Get("/audit", h.apiAuditLog)
			})
		})
	})

	stopFn := func() {
		gateway.Close()
		hub.Stop()
	}

	return r, stopFn
}

var quietPaths = map[string]bool{"/health": true, "/metrics": true, "/ws": true, "/events": true}

// requestLog writes one line per request with its status and duration.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if quietPaths[r.URL.Path] {
			return
		}
		log.Printf("www: %s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}
