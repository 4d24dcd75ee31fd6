package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/avatarforge/backend/internal/auth"
	"github.com/avatarforge/backend/internal/generation"
	"github.com/avatarforge/backend/internal/handlers"
	"github.com/avatarforge/backend/internal/infra"
	"github.com/avatarforge/backend/internal/ledger"
	"github.com/avatarforge/backend/internal/middleware"
	"github.com/avatarforge/backend/internal/repository"
)

type routerDeps struct {
	cfg         *infra.Config
	logger      infra.Logger
	authSvc     auth.Service
	genSvc      *generation.Service
	ledgerSvc   *ledger.Service
	userRepo    *repository.UserRepo
	projectRepo *repository.ProjectRepo
	avatarRepo  *repository.AvatarRepo
}

// buildRouter assembles the /api/v1 surface.
// Middleware chain on protected routes: BearerAuth -> handler.
func buildRouter(deps routerDeps) http.Handler {
	authHandler := auth.NewHandler(deps.authSvc, deps.logger)
	generateHandler := &handlers.GenerateHandler{Svc: deps.genSvc, Logger: deps.logger}
	creditsHandler := &handlers.CreditsHandler{Svc: deps.ledgerSvc, Logger: deps.logger}
	projectsHandler := &handlers.ProjectsHandler{Repo: deps.projectRepo, Logger: deps.logger}
	avatarsHandler := &handlers.AvatarsHandler{Repo: deps.avatarRepo, Logger: deps.logger}
	meHandler := &handlers.MeHandler{Users: deps.userRepo, Logger: deps.logger}

	requireAuth := middleware.BearerAuth(deps.authSvc)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/auth/me", meHandler.Me)

			r.Post("/generate/video", generateHandler.GenerateVideo)
			r.Get("/generate/tasks/{taskID}", generateHandler.GetTask)

			r.Get("/credits/balance", creditsHandler.Balance)
			r.Get("/credits/transactions", creditsHandler.Transactions)
			r.Get("/credits/packages", creditsHandler.Packages)
			r.Post("/credits/purchase", creditsHandler.Purchase)

			r.Post("/projects", projectsHandler.Create)
			r.Get("/projects", projectsHandler.List)
			r.Get("/projects/{projectID}", projectsHandler.Get)
			r.Put("/projects/{projectID}", projectsHandler.Update)
			r.Delete("/projects/{projectID}", projectsHandler.Delete)

			r.Post("/avatars", avatarsHandler.Create)
			r.Get("/avatars", avatarsHandler.List)
			r.Delete("/avatars/{avatarID}", avatarsHandler.Delete)
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   deps.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)
}
