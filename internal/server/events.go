package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 25 * time.Second

// handleEvents streams a member's realtime events over SSE. Heartbeats keep
// intermediary proxies from closing idle connections.
func (h *httpHandler) handleEvents(c *gin.Context) {
	identity := h.identity(c)

	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), identity.MemberID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-stream:
			if !ok {
				return false
			}
			payload := gin.H{
				"source":    realtimeSourceBackend,
				"timestamp": message.Timestamp.UTC(),
			}
			for key, value := range message.Payload {
				payload[key] = value
			}
			c.SSEvent(message.EventType, payload)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
