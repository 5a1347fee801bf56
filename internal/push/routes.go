package push

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/middleware"
)

// NewRouter constructs the webhook receiver.
//
// Routes:
//
//	POST /push/{kind} → h.Push (kind is message, containerUpdate or itemUpdate)
//
// Middleware chain (applied in order):
//  1. Recoverer
//  2. AllowContentType("application/json")
//  3. WithRequestLogging(log)
//  4. TokenAuth(token)
func NewRouter(h *Handler, token string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(log))
	r.Use(middleware.TokenAuth(token))

	r.Post("/push/{kind}", h.Push)

	return r
}
