package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/notify"
	"github.com/fjod/go_cellar/pkg/logger"
)

type RouterConfig struct {
	JWTSecret         []byte
	AdminRoleID       int
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
}

// NewRouter wires every gateway route. The SSE stream sits outside the
// request timeout.
func NewRouter(cfg RouterConfig, carts CartService, hub *notify.Hub, log *zap.Logger) http.Handler {
	log = logger.OrNop(log)
	cartHandler := NewCartHandler(carts, cfg.RequestTimeout, log)
	notificationHandler := NewNotificationHandler(hub, log)
	streamHandler := NewStreamHandler(hub, cfg.HeartbeatInterval, log)
	auth := JWTAuthMiddleware(cfg.JWTSecret, log)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(accessLog(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/sse/stream", streamHandler.Stream)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(auth)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{productId}", cartHandler.UpdateQuantity)
			r.Delete("/items/{productId}", cartHandler.RemoveItem)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Post("/read-all", notificationHandler.MarkAllRead)
			r.Post("/{id}/read", notificationHandler.MarkRead)
		})

		r.Post("/sse/stream/ack", notificationHandler.Ack)

		r.With(AdminMiddleware(cfg.AdminRoleID)).Post("/admin/notifications", notificationHandler.Push)
	})

	return r
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", getRequestID(r.Context())))
		})
	}
}
