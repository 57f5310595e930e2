package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all routes configured.
func (s *Server) NewRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Post("/auth/verify", s.AuthVerify)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/auth/me", s.AuthMe)
		r.Get("/tags", s.ListTags)
		r.Post("/upload", s.Upload)
		r.Post("/upload/multiple", s.UploadMultiple)
		r.Post("/encrypt", s.EncryptFile)
		r.Post("/decrypt", s.DecryptFile)
		r.Get("/files", s.ListFiles)
		r.Get("/download/{category}/{filename}", s.Download)
	})

	return r
}
