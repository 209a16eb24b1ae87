// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

/*
Package notify builds and enqueues account lifecycle notifications.

It translates domain events (verification requested, password reset requested)
into queued email jobs. Delivery itself happens out of process; this package
only shapes the payload and hands it to the job queue.
*/
package notify

import (
	"context"
	"log/slog"

	"github.com/keiro-dev/keiro/internal/platform/jobs"
)

// Job kinds consumed by the notification worker.
const (
	KindVerificationEmail  = "email:verification"
	KindPasswordResetEmail = "email:password_reset"
)

// emailPayload is the job body for all outgoing account emails.
type emailPayload struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// Service enqueues notification jobs. It satisfies the auth.Notifier contract.
type Service struct {
	enqueuer *jobs.Enqueuer
	logger   *slog.Logger
}

// NewService constructs a notification service backed by the shared job queue.
func NewService(enqueuer *jobs.Enqueuer, logger *slog.Logger) *Service {
	return &Service{enqueuer: enqueuer, logger: logger}
}

/*
NotifyVerification enqueues an email-verification job.

Parameters:
  - context: context.Context
  - email: string
  - token: string (Raw verification token embedded in the link)

Returns:
  - error: Enqueue failures (callers treat these as best-effort)
*/
func (service *Service) NotifyVerification(context context.Context, email, token string) error {
	err := service.enqueuer.Enqueue(context, KindVerificationEmail, emailPayload{Email: email, Token: token})
	if err != nil {
		service.logger.ErrorContext(context, "notify_verification_enqueue_failed",
			slog.String("email", email),
			slog.Any("error", err),
		)
	}
	return err
}

/*
NotifyPasswordReset enqueues a password-reset job.

Parameters:
  - context: context.Context
  - email: string
  - token: string (Raw reset token embedded in the link)

Returns:
  - error: Enqueue failures (callers treat these as best-effort)
*/
func (service *Service) NotifyPasswordReset(context context.Context, email, token string) error {
	err := service.enqueuer.Enqueue(context, KindPasswordResetEmail, emailPayload{Email: email, Token: token})
	if err != nil {
		service.logger.ErrorContext(context, "notify_password_reset_enqueue_failed",
			slog.String("email", email),
			slog.Any("error", err),
		)
	}
	return err
}
