package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// handleWatch streams rollout state changes over a websocket. The
// current state is sent immediately, then every change until the
// rollout reaches a terminal state or the client disconnects.
func (r *Router) handleWatch(w http.ResponseWriter, req *http.Request) {
	id := domain.RolloutID(req.PathValue("id"))

	rollout, err := r.svc.Rollouts.Get(req.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(rollout); err != nil {
		return
	}
	lastState, lastStage, lastGen := rollout.State, rollout.CurrentStage, rollout.Generation

	ticker := time.NewTicker(r.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
		}

		rollout, err = r.svc.Rollouts.Get(req.Context(), id)
		if err != nil {
			r.logger.Warn("watch lost rollout", "rollout", id, "error", err)
			return
		}
		if rollout.State == lastState && rollout.CurrentStage == lastStage && rollout.Generation == lastGen {
			continue
		}
		if err := conn.WriteJSON(rollout); err != nil {
			return
		}
		lastState, lastStage, lastGen = rollout.State, rollout.CurrentStage, rollout.Generation

		if rollout.State.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "rollout finished")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}
