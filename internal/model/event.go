package model

import (
	"reflect"
	"time"
)

type EventType string

const (
	EventEcho               EventType = "ECHO"
	EventItemCreated        EventType = "INVENTORY_ITEM_CREATED"
	EventItemUpdated        EventType = "INVENTORY_ITEM_UPDATED"
	EventItemRemotePurchase EventType = "INVENTORY_ITEM_REMOTE_PURCHASE"
)

func (t EventType) String() string { return string(t) }

type ItemCreated struct {
	StoreID   string `json:"storeId"`
	ProductID string `json:"productId"`
}

type ItemUpdated struct {
	StoreID   string `json:"storeId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type ItemRemotePurchase struct {
	StoreID       string `json:"storeId"`
	ProductID     string `json:"productId"`
	QuantityDelta int    `json:"quantityDelta"`
}

// payloadTypes is the closed set of announcement types and the payload
// shape each one carries.
var payloadTypes = map[EventType]reflect.Type{
	EventEcho:               reflect.TypeOf(""),
	EventItemCreated:        reflect.TypeOf(ItemCreated{}),
	EventItemUpdated:        reflect.TypeOf(ItemUpdated{}),
	EventItemRemotePurchase: reflect.TypeOf(ItemRemotePurchase{}),
}

// ParseEventType returns (type, true) for a known tag.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(s)
	_, ok := payloadTypes[t]
	return t, ok
}

// PayloadType returns the declared payload shape of t, or nil if t is unknown.
func PayloadType(t EventType) reflect.Type {
	return payloadTypes[t]
}

// Event is an announcement with a decoded payload.
type Event[T any] struct {
	Stream    string    `json:"stream"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Type      EventType `json:"type"`
	Payload   T         `json:"payload"`
}
