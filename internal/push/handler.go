// Package push receives push notifications delivered to the client's webhook.
package push

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atinyakov/keepsync/internal/models"
)

// maxBody bounds a single delivery.
const maxBody = 64 << 10

// Dispatcher accepts notifications for asynchronous handling.
type Dispatcher interface {
	Dispatch(n models.Notification)
}

// Handler turns webhook deliveries into notifications.
type Handler struct {
	Dispatcher Dispatcher
}

// Push handles POST /push/{kind}.
// The body is the notification payload; its kind is taken from the path.
// Deliveries are acknowledged once queued, not once handled.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	kind := models.NotificationKind(chi.URLParam(r, "kind"))
	switch kind {
	case models.KindMessage, models.KindContainerUpdate, models.KindItemUpdate:
	default:
		http.Error(w, "unknown notification kind", http.StatusNotFound)
		return
	}

	var n models.Notification
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&n); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	n.Kind = kind

	h.Dispatcher.Dispatch(n)
	w.WriteHeader(http.StatusAccepted)
}
