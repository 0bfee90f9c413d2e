package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every route behind the request logger, metrics and CORS
// middleware.
func NewRouter(e Env) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(e.logger()))
	r.Use(MetricsMiddleware(e.Metrics))
	r.Use(cors)

	r.Get("/healthz", e.Healthz)
	r.Get("/readyz", e.Readyz)

	r.Get("/dna.js", e.ServeCollector)
	r.Get("/hmac.js", e.HMACScript)
	r.Get("/hmac/public-key", e.HMACPublicKey)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/fingerprint", e.Fingerprint)
		r.Post("/identity", e.Identity)
		r.Post("/dna", e.DNA)
		r.Post("/check", e.Check)
		r.Get("/signatures", e.ListSignatures)
		r.Post("/signatures", e.AddSignature)
	})

	if e.Live != nil {
		r.Get("/ws/alerts", e.Live.ServeHTTP)
	}
	return r
}
