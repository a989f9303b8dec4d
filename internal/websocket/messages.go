package websocket

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"courtbot/internal/models"
)

// MessageType identifies the type of a pushed message.
type MessageType string

const (
	TypeSlotsUpdated  MessageType = "slots.updated"
	TypeBookingResult MessageType = "booking.result"
	TypeActivity      MessageType = "activity"
)

// Message is the envelope of every pushed message.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

func NewMessage(t MessageType, payload any) Message {
	return Message{Type: t, Timestamp: time.Now().UTC(), Payload: payload}
}

// SlotsPayload is the payload of slots.updated.
type SlotsPayload struct {
	Count int           `json:"count"`
	Slots []models.Slot `json:"slots"`
}

// Broadcaster turns engine output into hub messages. It implements the
// engine's slot and booking sinks and events.Emitter.
type Broadcaster struct {
	hub *Hub
	log *zap.Logger
}

func NewBroadcaster(hub *Hub, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{hub: hub, log: log.Named("websocket")}
}

func (b *Broadcaster) StoreSlots(_ context.Context, slots []models.Slot) error {
	b.send(NewMessage(TypeSlotsUpdated, SlotsPayload{Count: len(slots), Slots: slots}))
	return nil
}

func (b *Broadcaster) StoreBooking(_ context.Context, r models.BookingResult) error {
	b.send(NewMessage(TypeBookingResult, r))
	return nil
}

func (b *Broadcaster) Emit(e models.ActivityEvent) {
	b.send(NewMessage(TypeActivity, e))
}

func (b *Broadcaster) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn("message not encoded", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	b.hub.Broadcast(data)
}
