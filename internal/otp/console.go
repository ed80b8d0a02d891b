package otp

import (
	"context"
	"log"
)

// ConsoleSender logs codes instead of sending them. Fallback for
// environments without a configured provider.
type ConsoleSender struct{}

// NewConsoleSender creates the fallback sender
func NewConsoleSender() *ConsoleSender {
	return &ConsoleSender{}
}

// Send logs the message
func (s *ConsoleSender) Send(ctx context.Context, msg Message) error {
	log.Printf("📱 [OTP/%s] to %s (order %s): %s", msg.Channel, msg.Destination, msg.OrderID, msg.Code)
	return nil
}
