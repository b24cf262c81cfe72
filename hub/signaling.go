package hub

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vault-app/vault-hub/auth"
	"github.com/vault-app/vault-hub/models"
)

// PartnerResolver looks up the partner linked to a user, ok is false when there is none
type PartnerResolver interface {
	PartnerOf(ctx context.Context, userID string) (partnerID string, ok bool, err error)
}

// LocationRecorder keeps the last location each user reported
type LocationRecorder interface {
	SetLocation(ctx context.Context, userID string, location models.LocationData) error
}

// SignalingRelay forwards call setup, presence and safety events to their recipients. It keeps
// no state between events, call progress lives entirely on the two clients.
type SignalingRelay struct {
	router    *Router
	partners  PartnerResolver
	locations LocationRecorder
	log       *logrus.Entry
}

// NewSignalingRelay creates a relay, locations may be nil to skip recording locations
func NewSignalingRelay(router *Router, partners PartnerResolver, locations LocationRecorder) *SignalingRelay {
	return &SignalingRelay{
		router:    router,
		partners:  partners,
		locations: locations,
		log:       logrus.WithField("comp", "signaling"),
	}
}

// Relay forwards event on behalf of sender. The sender on every forwarded payload is the
// bound identity, never anything the client put in the event. Only collaborator failures
// are returned.
func (s *SignalingRelay) Relay(ctx context.Context, sender auth.Identity, event Event) error {
	from := sender.UserID
	log := s.log.WithField("user_id", from).WithField("event", event.EventName())

	switch e := event.(type) {
	case CallOffer:
		s.router.Deliver(e.Target, EventIncomingCall, &IncomingCallPayload{Offer: e.Offer, CallType: e.CallType, FromID: from})
		log.WithField("target", e.Target).WithField("call_type", e.CallType).Info("call offer relayed")

	case CallAnswer:
		s.router.Deliver(e.Target, EventCallAnswer, &CallAnswerPayload{Answer: e.Answer, FromID: from})
		log.WithField("target", e.Target).Info("call answer relayed")

	case ICECandidate:
		s.router.Deliver(e.Target, EventICECandidate, &ICECandidatePayload{Candidate: e.Candidate, FromID: from})

	case EndCall:
		s.router.Deliver(e.Target, EventEndCall, &EndCallPayload{FromID: from})
		log.WithField("target", e.Target).Info("call ended")

	case MissYou:
		s.router.Deliver(e.Target, EventMissYou, &MissYouPayload{From: from, Message: e.Message})

	case LocationUpdate:
		return s.relayLocation(ctx, sender, e)

	case SOSAlert:
		delivered := s.router.Deliver(e.Target, EventSOSAlert, &SOSAlertPayload{From: from, Location: e.Location, Message: e.Message})
		log.WithField("target", e.Target).WithField("delivered", delivered).Warn("sos alert relayed")

	default:
		return errors.Wrapf(ErrUnknownEvent, "%q is not a signaling event", event.EventName())
	}
	return nil
}

// relayLocation sends the update to the sender's partner only, then records it as the
// sender's last known location
func (s *SignalingRelay) relayLocation(ctx context.Context, sender auth.Identity, e LocationUpdate) error {
	partnerID, hasPartner, err := s.partners.PartnerOf(ctx, sender.UserID)
	if err != nil {
		return errors.Wrap(err, "error resolving partner")
	}

	if hasPartner {
		s.router.Deliver(partnerID, EventPartnerLocationUpdate, &PartnerLocationPayload{
			Lat:       e.Lat,
			Lng:       e.Lng,
			Accuracy:  e.Accuracy,
			Timestamp: e.Timestamp,
			FromID:    sender.UserID,
		})
	}

	if s.locations != nil {
		location := models.LocationData{Lat: e.Lat, Lng: e.Lng, Accuracy: e.Accuracy, Timestamp: e.Timestamp}
		if err := s.locations.SetLocation(ctx, sender.UserID, location); err != nil {
			return errors.Wrap(err, "error recording location")
		}
	}
	return nil
}

// PartnerOf exposes the partner lookup for callers addressing "my partner"
func (s *SignalingRelay) PartnerOf(ctx context.Context, userID string) (string, bool, error) {
	return s.partners.PartnerOf(ctx, userID)
}
