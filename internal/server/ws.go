package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"bookswap/internal/relay"
)

const wsBufferSize = 1024

// handleWS upgrades an authenticated connection and hands it to the relay.
// Browsers cannot set headers on websocket requests, so the token may also
// arrive as a query parameter.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		s.audit(r, "ws.authorize", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, ok := s.app.UserFromToken(token)
	if !ok {
		s.audit(r, "ws.authorize", "fail", "reason", "invalid_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin:     s.checkWSOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.audit(r, "ws.upgrade", "fail", "user_id", user.ID, "reason", err.Error())
		return
	}
	s.audit(r, "ws.connect", "success", "user_id", user.ID)
	relay.NewSession(s.hub, conn, user.ID, s.logger).Run()
}

func (s *Server) checkWSOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no origin.
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
