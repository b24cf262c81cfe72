// Package handlers is the REST surface next to the websocket endpoint. Every route here
// expects auth.Binder's middleware to have put the caller's identity in the request context.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vault-app/vault-hub/auth"
	"github.com/vault-app/vault-hub/hub"
	"github.com/vault-app/vault-hub/models"
	"github.com/vault-app/vault-hub/store"
	"github.com/vault-app/vault-hub/utils"
)

// DefaultSOSMessage is sent when a safety trigger carries no message of its own
const DefaultSOSMessage = "I need help! Please contact me."

// Store is what the REST handlers read directly, writes go through the hub's relays
type Store interface {
	PartnerOf(ctx context.Context, userID string) (string, bool, error)
	MessageHistory(ctx context.Context, userA, userB string) ([]*models.Message, error)
	GetLocation(ctx context.Context, userID string) (*models.LocationData, error)
}

var log = logrus.WithField("comp", "handlers")

func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.WriteErrorResponse(w, http.StatusUnauthorized, "Unauthorized")
	}
	return id, ok
}

// ChatHistory returns the conversation between the caller and {friendId}, oldest first
func ChatHistory(s Store, w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}

	friendID := chi.URLParam(r, "friendId")
	if friendID == "" {
		utils.WriteErrorResponse(w, http.StatusBadRequest, "missing friend id")
		return
	}

	messages, err := s.MessageHistory(r.Context(), caller.UserID, friendID)
	if err != nil {
		log.WithError(err).WithField("user_id", caller.UserID).Error("error loading chat history")
		utils.WriteErrorResponse(w, http.StatusInternalServerError, "unable to load messages")
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, messages)
}

// ChatSend stores a message and delivers it exactly like the send-message event does
func ChatSend(h *hub.Hub, w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}

	req := hub.SendMessage{}
	if err := utils.DecodeAndValidateJSON(&req, r); err != nil {
		utils.WriteErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := h.Chat().Send(r.Context(), caller, req)
	if err != nil {
		log.WithError(err).WithField("user_id", caller.UserID).Error("error sending message")
		utils.WriteErrorResponse(w, http.StatusInternalServerError, "unable to send message")
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, stored)
}

// LocationUpdate records the caller's location and relays it to their partner
func LocationUpdate(h *hub.Hub, w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}

	req := hub.LocationUpdate{}
	if err := utils.DecodeAndValidateJSON(&req, r); err != nil {
		utils.WriteErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Signaling().Relay(r.Context(), caller, req); err != nil {
		log.WithError(err).WithField("user_id", caller.UserID).Error("error updating location")
		utils.WriteErrorResponse(w, http.StatusInternalServerError, "unable to update location")
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "location updated"})
}

// PartnerLocation returns the last location the caller's partner reported
func PartnerLocation(s Store, w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}

	partnerID, found, err := s.PartnerOf(r.Context(), caller.UserID)
	if err != nil {
		log.WithError(err).WithField("user_id", caller.UserID).Error("error looking up partner")
		utils.WriteErrorResponse(w, http.StatusInternalServerError, "unable to look up partner")
		return
	}
	if !found {
		utils.WriteErrorResponse(w, http.StatusNotFound, "No partner set")
		return
	}

	location, err := s.GetLocation(r.Context(), partnerID)
	if errors.Cause(err) == store.ErrNotFound {
		utils.WriteErrorResponse(w, http.StatusNotFound, "No location available for partner")
		return
	}
	if err != nil {
		log.WithError(err).WithField("user_id", caller.UserID).Error("error loading partner location")
		utils.WriteErrorResponse(w, http.StatusInternalServerError, "unable to load partner location")
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, location)
}

type sosTriggerRequest struct {
	Target   string          `json:"target"`
	Message  string          `json:"message"`
	Location json.RawMessage `json:"location" validate:"payload"`
}

// SafetyTrigger raises an sos-alert, addressed to the caller's partner unless a target is given
func SafetyTrigger(h *hub.Hub, w http.ResponseWriter, r *http.Request) {
	caller, ok := identity(w, r)
	if !ok {
		return
	}

	req := &sosTriggerRequest{}
	if err := utils.DecodeAndValidateJSON(req, r); err != nil {
		utils.WriteErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	target := req.Target
	if target == "" {
		partnerID, found, err := h.Signaling().PartnerOf(r.Context(), caller.UserID)
		if err != nil {
			log.WithError(err).WithField("user_id", caller.UserID).Error("error looking up partner")
			utils.WriteErrorResponse(w, http.StatusInternalServerError, "unable to look up partner")
			return
		}
		if !found {
			utils.WriteErrorResponse(w, http.StatusNotFound, "No partner set")
			return
		}
		target = partnerID
	}

	message := req.Message
	if message == "" {
		message = DefaultSOSMessage
	}

	alert := hub.SOSAlert{Target: target, Message: message, Location: req.Location}
	if err := h.Signaling().Relay(r.Context(), caller, alert); err != nil {
		log.WithError(err).WithField("user_id", caller.UserID).Error("error relaying sos alert")
		utils.WriteErrorResponse(w, http.StatusInternalServerError, "unable to send alert")
		return
	}

	log.WithField("user_id", caller.UserID).WithField("target", target).Warn("sos triggered")
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "alert sent"})
}
