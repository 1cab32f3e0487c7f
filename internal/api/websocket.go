package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/connectivity-monitor/internal/types"
)

const wsWriteTimeout = 5 * time.Second

var stateUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(r.Host), strings.TrimSpace(u.Host))
	},
}

// handleWebsocket streams the connectivity state: the current value on
// connect, then every change
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := stateUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debugf("Websocket upgrade failed: %v", err)
		return
	}

	id, updates, unsubscribe := s.monitor.Subscribe()
	s.metrics.WebsocketConnected()
	log.WithField("subscriber", id).Debug("Websocket subscriber connected")

	defer func() {
		unsubscribe()
		conn.Close()
		s.metrics.WebsocketDisconnected()
		log.WithField("subscriber", id).Debug("Websocket subscriber disconnected")
	}()

	if err := writeState(conn, s.monitor.Status()); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case state, ok := <-updates:
			if !ok {
				return
			}
			if err := writeState(conn, state); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeState(conn *websocket.Conn, state types.ConnectivityState) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(state)
}
