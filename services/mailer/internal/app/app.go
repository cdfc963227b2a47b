// Package app renders and delivers the transactional emails.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ghazal/internal/util"
	"ghazal/pkg/email"
	"ghazal/pkg/mq"
)

// ErrUnknownKind is returned for job kinds the mailer does not render.
var ErrUnknownKind = errors.New("unknown email kind")

// App delivers rendered emails through a Sender.
type App struct {
	sender email.Sender
}

// New constructs the mailer core.
func New(sender email.Sender) (*App, error) {
	if sender == nil {
		return nil, errors.New("email sender required")
	}
	return &App{sender: sender}, nil
}

// SendOrderConfirmation renders and sends the buyer's order email.
func (a *App) SendOrderConfirmation(ctx context.Context, p email.OrderConfirmation, idempotencyKey string) (string, error) {
	rendered, err := email.RenderOrderConfirmation(p)
	if err != nil {
		return "", err
	}
	return a.send(ctx, email.KindOrderConfirmation, p.To, rendered, idempotencyKey)
}

// SendTransferNotice renders and sends the recipient's transfer email.
func (a *App) SendTransferNotice(ctx context.Context, n email.TransferNotice, idempotencyKey string) (string, error) {
	rendered, err := email.RenderTransferNotice(n)
	if err != nil {
		return "", err
	}
	return a.send(ctx, email.KindTransferNotice, n.To, rendered, idempotencyKey)
}

func (a *App) send(ctx context.Context, kind, to string, r email.Rendered, key string) (string, error) {
	id, err := a.sender.Send(ctx, email.Message{To: to, Subject: r.Subject, HTML: r.HTML, IdempotencyKey: key})
	if err != nil {
		return "", fmt.Errorf("send %s: %w", kind, err)
	}
	util.LoggerFromContext(ctx).Info("email_sent", "kind", kind, "provider_id", id)
	return id, nil
}

// HandleEnvelope is the queue consumer handler. Payloads that cannot be
// decoded or validated, unknown kinds and permanent provider rejections
// are reported as mq.ErrMalformed so the message is dropped.
func (a *App) HandleEnvelope(ctx context.Context, env mq.Envelope) error {
	var err error
	switch env.Kind {
	case email.KindOrderConfirmation:
		var p email.OrderConfirmation
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("%w: decode %s: %v", mq.ErrMalformed, env.Kind, err)
		}
		_, err = a.SendOrderConfirmation(ctx, p, env.ID)
	case email.KindTransferNotice:
		var n email.TransferNotice
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			return fmt.Errorf("%w: decode %s: %v", mq.ErrMalformed, env.Kind, err)
		}
		_, err = a.SendTransferNotice(ctx, n, env.ID)
	default:
		return fmt.Errorf("%w: %w %q", mq.ErrMalformed, ErrUnknownKind, env.Kind)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, email.ErrInvalidPayload) || !Retryable(err) {
		return fmt.Errorf("%w: %w", mq.ErrMalformed, err)
	}
	return err
}

// Retryable reports whether a send failure may succeed later. Transport
// errors are retryable; provider answers are retryable only for 429 and 5xx.
func Retryable(err error) bool {
	var sendErr *email.SendError
	if errors.As(err, &sendErr) {
		return sendErr.Retryable()
	}
	return !errors.Is(err, email.ErrInvalidPayload)
}
