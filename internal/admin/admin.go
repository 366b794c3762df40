// Package admin serves the operator HTTP API next to the game listener.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parchis/internal/app"
	"parchis/internal/domain"
	"parchis/internal/ports"
	"parchis/internal/server"
)

// Session is the part of a running session operators can drive.
type Session interface {
	Stats() (server.Stats, error)
	Connected() ([]string, error)
	ForceStart() error
	StopGame() error
}

// Accounts is the user administration surface.
type Accounts interface {
	ListUsers(ctx context.Context) ([]app.UserInfo, error)
	Register(ctx context.Context, r app.Registration) error
	DeleteUser(ctx context.Context, username string) error
}

var (
	_ Session  = (*server.Session)(nil)
	_ Accounts = (*app.Accounts)(nil)
)

type handler struct {
	session  Session
	accounts Accounts
	token    string
	logger   runtime.Logger
}

// NewRouter mounts the admin routes under /admin plus /metrics and /healthz.
// An empty token disables /admin entirely. ws, when non-nil, is mounted at /ws.
func NewRouter(session Session, accounts Accounts, token string, gatherer prometheus.Gatherer, ws http.Handler, logger runtime.Logger) http.Handler {
	h := &handler{session: session, accounts: accounts, token: token, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if ws != nil {
		r.Handle("/ws", ws)
	}
	if token == "" {
		logger.Warn("NewRouter: admin_token is empty, admin API disabled")
		return r
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Get("/stats", h.stats)
		r.Get("/connected", h.connected)
		r.Get("/users", h.listUsers)
		r.Post("/users", h.createUser)
		r.Delete("/users/{username}", h.deleteUser)
		r.Post("/game/start", h.startGame)
		r.Post("/game/stop", h.stopGame)
	})
	return r
}

func (h *handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.session.Stats()
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	users, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	st.RegisteredUsers = len(users)
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) connected(w http.ResponseWriter, r *http.Request) {
	users, err := h.session.Connected()
	if err != nil {
		h.fail(w, "connected", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "listUsers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Nombre   string `json:"nombre"`
		Apellido string `json:"apellido"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.accounts.Register(r.Context(), app.Registration{
		Username: req.Username,
		Password: req.Password,
		Nombre:   req.Nombre,
		Apellido: req.Apellido,
	})
	if err != nil {
		h.fail(w, "createUser", err)
		return
	}
	h.logger.Info("createUser: created %s", req.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.accounts.DeleteUser(r.Context(), username); err != nil {
		h.fail(w, "deleteUser", err)
		return
	}
	h.logger.Info("deleteUser: deleted %s", username)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) startGame(w http.ResponseWriter, r *http.Request) {
	if err := h.session.ForceStart(); err != nil {
		h.fail(w, "startGame", err)
		return
	}
	h.logger.Info("startGame: game started by operator")
	h.stats(w, r)
}

func (h *handler) stopGame(w http.ResponseWriter, r *http.Request) {
	if err := h.session.StopGame(); err != nil {
		h.fail(w, "stopGame", err)
		return
	}
	h.stats(w, r)
}

func (h *handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("%s: %v", op, err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrUserExists), errors.Is(err, app.ErrGameInProgress), errors.Is(err, domain.ErrTooFewPlayers):
		return http.StatusConflict
	case errors.Is(err, ports.ErrUserNotFound), errors.Is(err, app.ErrNoGame):
		return http.StatusNotFound
	case errors.Is(err, server.ErrSessionClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
