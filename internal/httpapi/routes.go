package httpapi

import (
	"net/http"
	"net/url"

	"github.com/DoyleJ11/foodfps/internal/foodpass"
	"github.com/DoyleJ11/foodfps/internal/realtime"
	"github.com/DoyleJ11/foodfps/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Deps struct {
	Channel   realtime.Channel
	Tiers     []foodpass.Tier
	Generator *foodpass.Generator
	// AllowedOrigins feeds both CORS and the websocket origin check.
	// Empty allows any origin.
	AllowedOrigins []string
	Logger         *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Generator == nil {
		d.Generator = foodpass.NewGenerator(foodpass.DefaultConfig)
	}
	log := d.Logger.Named("http")

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	tiers := &tierHandlers{table: d.Tiers, gen: d.Generator, log: log}

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Channel, ws.Options{OriginPatterns: originHosts(origins), Logger: d.Logger}))
	r.Route("/foodpass", func(r chi.Router) {
		r.Get("/tiers", tiers.List)
		r.Get("/tiers/{index}", tiers.Get)
		r.Get("/unlocked", tiers.Unlocked)
	})
	return r
}

// originHosts turns CORS origins into the host patterns websocket.Accept
// matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
