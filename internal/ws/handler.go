package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Handle upgrades an HTTP request to a websocket connection and starts its
// lifecycle. The connection begins unauthenticated and must present a valid
// token, either as a ?token= query parameter or an authenticate frame, within
// the grace period.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(s, conn)
	c.authTimer = time.AfterFunc(s.cfg.AuthGracePeriod, func() {
		if !c.Authenticated() {
			c.sendError(errf(CodeUnauthenticated, "authentication grace period expired"))
			c.Close()
		}
	})
	go c.writePump()

	c.sendFrame(newFrame(FrameConnectionEstablished, map[string]string{"connectionId": c.ID}))

	if token := r.URL.Query().Get("token"); token != "" {
		s.authenticate(c, token)
	}

	go c.readPump()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if allowed == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.Contains(allowed, origin)
}
