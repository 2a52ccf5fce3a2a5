package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"room-chat/internal/rabbitmq"
)

// StateReporter exposes a broker connection state.
type StateReporter interface {
	State() rabbitmq.State
}

// Health reports broker and worker connectivity. The service stays up
// (200) while the broker is away; status turns "degraded".
func Health(broker, worker StateReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerState := stateOf(broker)
		workerState := stateOf(worker)

		status := "ok"
		if brokerState != rabbitmq.StateConnected {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status": status,
			"broker": brokerState,
			"worker": workerState,
		})
	}
}

func stateOf(r StateReporter) rabbitmq.State {
	if r == nil {
		return rabbitmq.StateDisabled
	}
	return r.State()
}
