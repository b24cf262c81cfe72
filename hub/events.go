package hub

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/vault-app/vault-hub/models"
	"github.com/vault-app/vault-hub/utils"
)

// inbound event names
const (
	EventHandshake      = "#handshake"
	EventSendMessage    = "send-message"
	EventCallOffer      = "call-offer"
	EventCallAnswer     = "call-answer"
	EventICECandidate   = "ice-candidate"
	EventEndCall        = "end-call"
	EventMissYou        = "miss-you"
	EventLocationUpdate = "location-update"
	EventSOSAlert       = "sos-alert"
)

// outbound event names, call-answer, ice-candidate, end-call, miss-you and sos-alert keep their inbound names
const (
	EventReceiveMessage        = "receive-message"
	EventIncomingCall          = "incoming-call"
	EventPartnerLocationUpdate = "partner-location-update"

	// EventError tells a client that an event it sent without a cid failed
	EventError = "error"
)

var (
	// ErrUnknownEvent is returned when a frame names an event we don't handle
	ErrUnknownEvent = errors.New("unknown event")

	// ErrInvalidEvent is returned when an event payload is malformed or misses a required field
	ErrInvalidEvent = errors.New("invalid event")
)

// WSMessage is a frame sent by a client, cid is echoed back as rid in the ack
type WSMessage struct {
	CID   int             `json:"cid"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundMessage is an event pushed to a client
type OutboundMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// AckMessage answers a frame that carried a cid
type AckMessage struct {
	RID   int         `json:"rid"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorPayload is the data of an error event
type ErrorPayload struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// Event is one of the closed set of inbound events below
type Event interface {
	EventName() string
}

// SendMessage submits a chat message, either text or a structured body with a location
type SendMessage struct {
	ReceiverID string           `json:"receiverId" validate:"required"`
	Text       string           `json:"text" validate:"required_without=Location"`
	Type       string           `json:"type"`
	Location   *models.Location `json:"location"`
	Timestamp  string           `json:"timestamp"`
}

type CallOffer struct {
	Target   string          `json:"target" validate:"required"`
	Offer    json.RawMessage `json:"offer" validate:"payload"`
	CallType string          `json:"callType" validate:"required"`
}

type CallAnswer struct {
	Target string          `json:"target" validate:"required"`
	Answer json.RawMessage `json:"answer" validate:"payload"`
}

type ICECandidate struct {
	Target    string          `json:"target" validate:"required"`
	Candidate json.RawMessage `json:"candidate" validate:"payload"`
}

type EndCall struct {
	Target string `json:"target" validate:"required"`
}

type MissYou struct {
	Target  string `json:"target" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// LocationUpdate is addressed implicitly to the sender's partner
type LocationUpdate struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp string  `json:"timestamp"`
}

type SOSAlert struct {
	Target   string          `json:"target" validate:"required"`
	Message  string          `json:"message" validate:"required"`
	Location json.RawMessage `json:"location" validate:"payload"`
}

func (SendMessage) EventName() string    { return EventSendMessage }
func (CallOffer) EventName() string      { return EventCallOffer }
func (CallAnswer) EventName() string     { return EventCallAnswer }
func (ICECandidate) EventName() string   { return EventICECandidate }
func (EndCall) EventName() string        { return EventEndCall }
func (MissYou) EventName() string        { return EventMissYou }
func (LocationUpdate) EventName() string { return EventLocationUpdate }
func (SOSAlert) EventName() string       { return EventSOSAlert }

var eventDecoders = map[string]func(data []byte) (Event, error){
	EventSendMessage:    decodeAs[SendMessage],
	EventCallOffer:      decodeAs[CallOffer],
	EventCallAnswer:     decodeAs[CallAnswer],
	EventICECandidate:   decodeAs[ICECandidate],
	EventEndCall:        decodeAs[EndCall],
	EventMissYou:        decodeAs[MissYou],
	EventLocationUpdate: decodeAs[LocationUpdate],
	EventSOSAlert:       decodeAs[SOSAlert],
}

func decodeAs[T Event](data []byte) (Event, error) {
	var event T
	if err := utils.UnmarshalAndValidate(data, &event); err != nil {
		return nil, err
	}
	return event, nil
}

// DecodeEvent turns the named payload into its typed event, rejecting payloads missing required fields
func DecodeEvent(name string, data json.RawMessage) (Event, error) {
	decode, found := eventDecoders[name]
	if !found {
		return nil, errors.Wrapf(ErrUnknownEvent, "%q", name)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}

	event, err := decode(data)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidEvent, "%s: %s", name, err)
	}
	return event, nil
}

// outbound payloads

type IncomingCallPayload struct {
	Offer    json.RawMessage `json:"offer"`
	CallType string          `json:"callType"`
	FromID   string          `json:"fromId"`
}

type CallAnswerPayload struct {
	Answer json.RawMessage `json:"answer"`
	FromID string          `json:"fromId"`
}

type ICECandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
	FromID    string          `json:"fromId"`
}

type EndCallPayload struct {
	FromID string `json:"fromId"`
}

type MissYouPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type PartnerLocationPayload struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp string  `json:"timestamp"`
	FromID    string  `json:"fromId"`
}

type SOSAlertPayload struct {
	From     string          `json:"from"`
	Location json.RawMessage `json:"location"`
	Message  string          `json:"message"`
}
