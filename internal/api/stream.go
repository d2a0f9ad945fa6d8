package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/clawinfra/toolgate/internal/security"
)

// handleDecisionStream upgrades to a websocket and pushes every gateway
// response as one JSON frame.
//
// Flow:
//  1. Validate ?token= (skipped when no secret is configured).
//  2. Accept the upgrade and subscribe to the gateway.
//  3. Forward responses until the client goes away.
func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	if s.jwtSecret != nil {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := security.ValidateToken(tokenStr, s.jwtSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if !security.CheckPermission(claims.Role, http.MethodGet, r.URL.Path) {
			writeError(w, http.StatusForbidden, security.ErrInsufficientRole.Error())
			return
		}
	}
	if s.gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not available")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	updates, cancel := s.gateway.Subscribe(64)
	defer cancel()

	// Clients only listen; CloseRead cancels ctx when they disconnect.
	ctx := conn.CloseRead(r.Context())
	s.logger.Info("decision stream connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("decision stream closed", "remote", r.RemoteAddr)
			return
		case resp, ok := <-updates:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, resp); err != nil {
				s.logger.Debug("decision stream write failed", "error", err)
				return
			}
		}
	}
}
