package service

import (
	"context"

	"github.com/rs/zerolog"
)

// Mailer is the external delivery collaborator. Rendering and transport of
// the actual messages live outside this service.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer stands in for a real delivery backend in development: it logs
// the outbound tokens instead of sending mail.
type LogMailer struct {
	Log zerolog.Logger
}

func (m LogMailer) SendVerification(_ context.Context, email, token string) error {
	m.Log.Info().
		Str("event", "mail.verification").
		Str("email", email).
		Str("token", token).
		Msg("verification mail queued")
	return nil
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.Log.Info().
		Str("event", "mail.password_reset").
		Str("email", email).
		Str("token", token).
		Msg("password reset mail queued")
	return nil
}
