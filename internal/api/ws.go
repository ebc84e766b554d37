package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// wsFrames upgrades to a WebSocket connection and bridges Hub messages to
// it as JSON text frames (§6.2). A missing stream_id subscribes to all
// streams. The connection's lifetime is bounded by client liveness: the
// server pings on an interval and closes if a pong doesn't arrive within
// PongWait. The server never reads application data from the connection.
func (s *Server) wsFrames(c *gin.Context) {
	streamID := c.Query("stream_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("api: websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(streamID)
	defer s.hub.Unsubscribe(sub.ID)

	conn.SetReadDeadline(time.Now().Add(s.wsCfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.wsCfg.PongWait))
		return nil
	})

	// Drain and discard any client-initiated reads so pong control frames
	// are still processed by gorilla internally. A read error (including the
	// PongWait read deadline expiring) ends the connection.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.wsCfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-sub.Closed():
			closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber overrun")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeTimeout))
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
