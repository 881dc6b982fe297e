package httpapi

import (
	"net/http"
	"time"

	"github.com/DoyleJ11/durak-server/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func SetupRoutes(a *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(a.hub, ws.Options{OriginPatterns: a.cfg.AllowedOrigins, Log: a.log.Named("ws")}))

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", a.CreateRoom)
		r.Get("/", a.ListRooms)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.GetRoom)
			r.Post("/join", a.JoinRoom)
			r.Post("/start", a.StartRoom)
			r.Post("/moves", a.SubmitMove)
			r.Post("/leave", a.LeaveRoom)
			r.Post("/chat", a.Chat)
			r.Get("/chat", a.ChatHistory)
			r.Get("/result", a.MatchResult)
		})
	})

	r.Get("/accounts/{id}", a.GetAccount)
	r.Post("/accounts/{id}", a.OpenAccount)
	r.Get("/accounts/{id}/entries", a.AccountEntries)

	r.Get("/shop/items", a.ShopItems)
	r.Post("/shop/purchase", a.Purchase)
	r.Get("/players/{id}/inventory", a.Inventory)

	r.Get("/leaderboard", a.Leaderboard)
	return r
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
