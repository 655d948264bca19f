package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hanoibanhcuon/automaker/internal/bus"
)

const wsPingInterval = 30 * time.Second

// wsHandler streams the same events as the SSE endpoint over a
// WebSocket connection.
func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := make(chan bus.Event)
		s.hub.register <- client

		done := make(chan struct{})

		// Drain reads so close frames and pongs are processed.
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		go func() {
			defer func() {
				s.hub.unregister <- client
				conn.Close()
			}()

			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-done:
					return
				case event, ok := <-client:
					if !ok {
						return
					}
					conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
					if err := conn.WriteJSON(event); err != nil {
						return
					}
				case <-ticker.C:
					conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()
	}
}
