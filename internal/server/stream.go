package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/trips"
)

const (
	snapshotEventName  = "snapshot"
	heartbeatEventName = "heartbeat"
	heartbeatInterval  = 30 * time.Second
)

type snapshotEventPayload struct {
	TripID   string          `json:"trip_id"`
	Version  int64           `json:"version"`
	Exists   bool            `json:"exists"`
	Snapshot *trips.Snapshot `json:"snapshot,omitempty"`
}

// handleStream relays every stored version of the trip document as a
// server-sent "snapshot" event until the client goes away.
func (h *httpHandler) handleStream(c *gin.Context) {
	tripID, err := trips.NewTripID(c.Param("tripId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_trip_id"})
		return
	}
	key, err := documents.NewKey(tripID.String())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_trip_id"})
		return
	}

	ctx := c.Request.Context()
	stream, stop, err := h.documents.Subscribe(ctx, key)
	if err != nil {
		h.respondError(c, "stream", err)
		return
	}
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	streamLogger := h.logger.With(zap.String("trip_id", tripID.String()))
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			c.SSEvent(heartbeatEventName, gin.H{"time": time.Now().UTC().Unix()})
			c.Writer.Flush()
		case document, ok := <-stream:
			if !ok {
				return
			}
			payload := snapshotEventPayload{
				TripID:  tripID.String(),
				Version: document.Version,
				Exists:  document.Exists,
			}
			if document.Exists {
				snapshot, err := trips.DecodeSnapshot(document.Fields)
				if err != nil {
					streamLogger.Warn("skipping invalid snapshot", zap.Int64("version", document.Version), zap.Error(err))
					continue
				}
				payload.Snapshot = &snapshot
			}
			c.SSEvent(snapshotEventName, payload)
			c.Writer.Flush()
		}
	}
}
