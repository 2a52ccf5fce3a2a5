package ws

import "time"

// ConnInfo describes one websocket connection for logs and ws events.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	Username    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) payload(event, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": time.Since(i.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":  i.UserID,
			"username": i.Username,
			"ip":       i.IP,
		},
	}
}
