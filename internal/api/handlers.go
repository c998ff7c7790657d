package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/db/models"
	"github.com/pysugar/area-nexus/internal/engine"
	"github.com/pysugar/area-nexus/internal/providers"
	"github.com/pysugar/area-nexus/internal/version"
)

type handlers struct {
	d Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (h *handlers) listActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Engine.GetAvailableActions())
}

func (h *handlers) listReactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Engine.GetAvailableReactions())
}

func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	list := []providers.ProviderInfo{}
	if h.d.Registry != nil {
		list = append(list, h.d.Registry.Describe()...)
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	linked, err := h.d.Links.ListLinked(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if linked == nil {
		linked = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "linked": linked})
}

func (h *handlers) deleteMe(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Engine.DeleteUser(r.Context(), currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== Areas =====

type createAreaRequest struct {
	Action   string         `json:"action"`
	Reaction string         `json:"reaction"`
	Config   map[string]any `json:"config"`
}

func (h *handlers) createArea(w http.ResponseWriter, r *http.Request) {
	var req createAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, apperr.KindValidation, "invalid request body")
		return
	}
	id, err := h.d.Engine.BindAction(r.Context(), currentUser(r), req.Action, req.Reaction, engine.WithConfig(req.Config))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) listAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := h.d.Engine.GetUserAreas(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"areas": areas, "count": len(areas)})
}

func (h *handlers) getArea(w http.ResponseWriter, r *http.Request) {
	a, err := h.d.Engine.GetArea(r.Context(), chi.URLParam(r, "id"))
	if err == nil && a.UserID != currentUser(r) {
		err = apperr.NotFound("api.getArea", "area not found")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// deleteArea deactivates an area of the caller. Areas of other users look
// missing.
func (h *handlers) deleteArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.d.Engine.GetArea(r.Context(), id)
	if err == nil && a.UserID != currentUser(r) {
		err = apperr.NotFound("api.deleteArea", "area not found")
	}
	if err == nil {
		err = h.d.Engine.DeactivateArea(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryLimit(r *http.Request) int {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	return limit
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.d.Events.ListForUser(r.Context(), currentUser(r), queryLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *handlers) listAreaEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.d.Engine.GetArea(r.Context(), id)
	if err == nil && a.UserID != currentUser(r) {
		err = apperr.NotFound("api.listAreaEvents", "area not found")
	}
	var events []models.EventLog
	if err == nil {
		events, err = h.d.Events.ListForArea(r.Context(), id, queryLimit(r))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// ===== Admin =====

func (h *handlers) trigger(w http.ResponseWriter, r *http.Request) {
	report, err := h.d.Engine.TriggerAreaExecution(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) recentEvents(w http.ResponseWriter, r *http.Request) {
	events := h.d.Events.Recent(queryLimit(r))
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Events.Stats())
}

// ===== Sign-in and linking =====

func (h *handlers) signInWithIDToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, apperr.KindValidation, "invalid request body")
		return
	}
	login, err := h.d.Identity.SignInWithIDToken(r.Context(), chi.URLParam(r, "provider"), req.IDToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, login)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	target, err := h.d.Identity.LoginURL(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *handlers) loginCallback(w http.ResponseWriter, r *http.Request) {
	if msg := r.URL.Query().Get("error"); msg != "" {
		writeMessage(w, http.StatusUnauthorized, apperr.KindAuthentication, "provider denied login: "+msg)
		return
	}
	q := r.URL.Query()
	login, err := h.d.Identity.CompleteLogin(r.Context(), chi.URLParam(r, "provider"), q.Get("state"), q.Get("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, login)
}

// link returns the consent URL as JSON; API clients hold the session in a
// header and cannot follow a bare redirect with it.
func (h *handlers) link(w http.ResponseWriter, r *http.Request) {
	target, err := h.d.Identity.LinkURL(chi.URLParam(r, "provider"), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": target})
}

func (h *handlers) linkCallback(w http.ResponseWriter, r *http.Request) {
	if msg := r.URL.Query().Get("error"); msg != "" {
		writeMessage(w, http.StatusUnauthorized, apperr.KindAuthentication, "provider denied linking: "+msg)
		return
	}
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()
	userID, err := h.d.Identity.CompleteLink(r.Context(), provider, q.Get("state"), q.Get("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "linked": provider})
}

func (h *handlers) unlink(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Links.Unlink(r.Context(), currentUser(r), chi.URLParam(r, "provider")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
