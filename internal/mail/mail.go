// Package mail delivers account-lifecycle notifications. Delivery is always
// best-effort from the caller's perspective: operations dispatch sends in
// the background and only log failures.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sender delivers verification emails.
type Sender interface {
	SendVerificationEmail(ctx context.Context, to, link string) error
}

const dispatchTimeout = 30 * time.Second

// Dispatch runs a verification-email send in the background. The send has
// its own failure channel: an error is logged and never reaches the request
// that triggered it.
func Dispatch(sender Sender, log *slog.Logger, to, link string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := sender.SendVerificationEmail(ctx, to, link); err != nil {
			log.Error("verification email failed", "to", to, "error", err)
			return
		}
		log.Info("verification email sent", "to", to)
	}()
}

// VerificationLink builds the link embedded in verification emails.
func VerificationLink(baseURL, token string) string {
	return fmt.Sprintf("%s/verify/%s", baseURL, token)
}
