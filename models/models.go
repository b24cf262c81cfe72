package models

import "time"

// Location is a point attached to a structured chat message or an SOS alert
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Message is a persisted chat message. It is created once by the chat relay and never updated.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Type       string    `json:"type,omitempty"`
	Location   *Location `json:"location,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// LocationData is the last known position a user reported
type LocationData struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp string  `json:"timestamp"`
}
