package notifysvc

import (
	"context"
	"log"
	"sync"
)

// ConsoleSender prints messages instead of delivering them.
type ConsoleSender struct {
	std           *log.Logger
	disableOutput bool

	mu   sync.Mutex
	sent []Delivery
}

type Delivery struct {
	Phone   string
	Message string
}

var _ Sender = (*ConsoleSender)(nil)

func NewConsoleSender(std *log.Logger) *ConsoleSender {
	return &ConsoleSender{std: std}
}

// NewConsoleSenderMock keeps the deliveries for inspection without printing them.
func NewConsoleSenderMock() *ConsoleSender {
	return &ConsoleSender{disableOutput: true}
}

func (s *ConsoleSender) Deliver(_ context.Context, phone, message string) error {
	s.mu.Lock()
	s.sent = append(s.sent, Delivery{Phone: phone, Message: message})
	s.mu.Unlock()

	if !s.disableOutput {
		s.std.Printf("To: +%s\n%s\n", phone, message)
	}
	return nil
}

// Sent returns a copy of the deliveries so far.
func (s *ConsoleSender) Sent() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.sent...)
}
