package router

import (
	"net/http"

	"github.com/voicedesk/backend/internal/admin"
	"github.com/voicedesk/backend/internal/auth"
	"github.com/voicedesk/backend/internal/handlers"
)

// Middleware wraps a handler, typically with authentication.
type Middleware func(http.Handler) http.Handler

// New wires every route. Auth endpoints and the public config read are
// open; everything else goes through the bearer middleware. Admin
// authorization is enforced inside the admin handler.
func New(
	authHandler *auth.Handler,
	accountHandler *handlers.AccountHandler,
	ttsHandler *handlers.TTSHandler,
	adminHandler *admin.Handler,
	authMW Middleware,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/v1/config", accountHandler.PublicConfig)

	protected := func(fn http.HandlerFunc) http.Handler {
		return authMW(fn)
	}

	mux.Handle("GET /api/v1/account/me", protected(accountHandler.GetMe))
	mux.Handle("GET /api/v1/account/ledger", protected(accountHandler.ListLedger))

	mux.Handle("POST /api/v1/tts/generate", protected(ttsHandler.Generate))
	mux.Handle("GET /api/v1/tts/status", protected(ttsHandler.GetStatus))
	mux.Handle("GET /api/v1/tts/download", protected(ttsHandler.DownloadArtifact))
	mux.Handle("GET /api/v1/tts/tasks", protected(ttsHandler.ListTasks))

	mux.Handle("GET /api/v1/admin/users", protected(adminHandler.ListUsers))
	mux.Handle("POST /api/v1/admin/users", protected(adminHandler.UpdateUser))
	mux.Handle("GET /api/v1/admin/config", protected(adminHandler.GetConfig))
	mux.Handle("POST /api/v1/admin/config", protected(adminHandler.UpdateConfig))

	return mux
}
