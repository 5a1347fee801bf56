package models

import (
	"encoding/json"
	"time"
)

// NotificationKind is the event name delivered by the push channel.
type NotificationKind string

const (
	// KindMessage announces a new inbox message.
	KindMessage NotificationKind = "message"
	// KindContainerUpdate announces new records in a container.
	KindContainerUpdate NotificationKind = "containerUpdate"
	// KindItemUpdate announces a new item value.
	KindItemUpdate NotificationKind = "itemUpdate"
)

// Notification is a transient inbound push event.
type Notification struct {
	Kind NotificationKind `json:"kind"`
	// MessageID is set for KindMessage.
	MessageID string `json:"messageId,omitempty"`
	// ContainerNameHmac is set for KindContainerUpdate.
	ContainerNameHmac string `json:"containerNameHmac,omitempty"`
	// Item is set for KindItemUpdate.
	Item *ItemUpdate `json:"item,omitempty"`
}

// ItemUpdate describes a changed item.
type ItemUpdate struct {
	ItemNameHmac string `json:"itemNameHmac"`
	Creator      string `json:"creator"`
	ToUsername   string `json:"toUsername"`
}

// Message is a resolved inbox message.
type Message struct {
	ID      string            `json:"id"`
	From    string            `json:"from"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload json.RawMessage   `json:"payload"`
	Created time.Time         `json:"created"`
}
