// Package otp delivers one-time codes over the configured channel.
package otp

import (
	"context"
	"fmt"
)

// Channels
const (
	ChannelSms      = "sms"
	ChannelWhatsapp = "whatsapp"
)

// Message is one outbound OTP delivery
type Message struct {
	Channel     string `json:"channel"`
	Destination string `json:"destination"`
	Code        string `json:"code"`
	OrderID     string `json:"orderId"`
}

// Sender pushes an OTP to the customer.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ValidateChannel checks the channel name
func ValidateChannel(channel string) error {
	switch channel {
	case ChannelSms, ChannelWhatsapp:
		return nil
	}
	return fmt.Errorf("unsupported channel: %s", channel)
}
