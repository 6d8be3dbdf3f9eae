package order

import "context"

// Email is a rendered plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Emailer sends order notifications.
type Emailer interface {
	Send(ctx context.Context, email Email) error
}
