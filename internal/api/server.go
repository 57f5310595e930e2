package api

import (
	"github.com/sealight/filecustody/internal/custody"
	"github.com/sealight/filecustody/internal/db"
	"github.com/sealight/filecustody/internal/middleware"
)

// MaxUploadFiles caps one batch upload request.
const MaxUploadFiles = 15

// Server holds the handler dependencies.
type Server struct {
	gateway        *custody.Gateway
	store          *db.DB
	auth           *middleware.Authenticator
	allowedOrigins []string
}

// NewServer creates the API server.
func NewServer(gateway *custody.Gateway, store *db.DB, auth *middleware.Authenticator, allowedOrigins []string) *Server {
	return &Server{
		gateway:        gateway,
		store:          store,
		auth:           auth,
		allowedOrigins: allowedOrigins,
	}
}
