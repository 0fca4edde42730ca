package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nkkko/supports/internal/api/errors"
	"github.com/nkkko/supports/internal/api/models"
	"github.com/nkkko/supports/internal/api/response"
	"github.com/nkkko/supports/internal/api/validation"
	"github.com/nkkko/supports/internal/control"
	"github.com/nkkko/supports/internal/keyboard"
	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/pkg/bag"
	"github.com/nkkko/supports/pkg/proto"
)

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if !a.center.Available() {
		response.Error(w, r, bag.ErrSourceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handlePost handles POST /notifications/{name}
func (a *API) handlePost(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := validation.NotificationName("name", name); err != nil {
		response.Error(w, r, err)
		return
	}

	var req models.PostNotificationRequest
	if err := validation.ParseAndValidate(r, &req, true); err != nil {
		response.Error(w, r, err)
		return
	}

	if !a.center.Available() {
		response.Error(w, r, bag.ErrSourceUnavailable)
		return
	}

	delivered := a.center.Post(r.Context(), name, req.Object, req.Payload)

	logger := logging.FromContext(r.Context())
	logger.Debug().
		Str("name", name).
		Str("object", req.Object).
		Int("delivered", delivered).
		Msg("Notification posted")

	response.JSON(w, r, http.StatusAccepted, proto.PostResponse{Name: name, Delivered: delivered})
}

// handleLast handles GET /notifications/{name}/last
func (a *API) handleLast(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := validation.NotificationName("name", name); err != nil {
		response.Error(w, r, err)
		return
	}

	n, ok := a.center.Last(name)
	if !ok {
		response.Error(w, r, errors.NotFoundError("notification_not_found", "No notification has been posted as "+name))
		return
	}

	response.JSON(w, r, http.StatusOK, n)
}

// handleObservers handles GET /observers
func (a *API) handleObservers(w http.ResponseWriter, r *http.Request) {
	counts := a.center.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}

	response.JSON(w, r, http.StatusOK, proto.ObserversResponse{Observers: counts, Total: total})
}

// handleKeyboard handles POST /keyboard/{event}. The payload is decoded with
// the configured mode; strict mode rejects malformed payloads before posting.
func (a *API) handleKeyboard(w http.ResponseWriter, r *http.Request) {
	event, ok := keyboard.ParseEvent(chi.URLParam(r, "event"))
	if !ok {
		response.Error(w, r, errors.NotFoundError("unknown_keyboard_event", "Unknown keyboard event "+chi.URLParam(r, "event")))
		return
	}

	var req models.KeyboardRequest
	if err := validation.ParseAndValidate(r, &req, false); err != nil {
		response.Error(w, r, err)
		return
	}

	info, err := keyboard.Decode(req.Payload, a.config.KeyboardMode)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	delivered := keyboard.Post(r.Context(), a.center, event, req.Object, info)
	response.JSON(w, r, http.StatusAccepted, proto.PostResponse{Name: string(event), Delivered: delivered})
}

// handleControl handles POST /controls/{id}/{event}
func (a *API) handleControl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validation.MaxLength("id", id, validation.MaxNameLength); err != nil {
		response.Error(w, r, err)
		return
	}

	event, ok := control.ParseEvent(chi.URLParam(r, "event"))
	if !ok {
		response.Error(w, r, errors.NotFoundError("unknown_control_event", "Unknown control event "+chi.URLParam(r, "event")))
		return
	}

	var req models.ControlRequest
	if err := validation.ParseAndValidate(r, &req, true); err != nil {
		response.Error(w, r, err)
		return
	}

	delivered := control.Fire(r.Context(), a.center, id, event, req.Payload)
	response.JSON(w, r, http.StatusAccepted, proto.PostResponse{Name: string(event), Delivered: delivered})
}
