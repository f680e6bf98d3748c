package amqp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rabbitmq/amqp091-go"
)

const (
	reconnectInitialInterval = 1 * time.Second
	reconnectMaxInterval     = 30 * time.Second
)

// NewReconnectBackOff returns the policy used between reconnect attempts:
// exponential from 1s, capped at 30s, never giving up on its own.
func NewReconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitialInterval
	b.MaxInterval = reconnectMaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"eof",
		"broken pipe",
		"use of closed network connection",
		"channel closed",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Dialer opens a client. NewClient is the production implementation.
type Dialer func() (*Client, error)

// ConsumeWithReconnect keeps a consumer running until ctx is done,
// re-dialing with NewReconnectBackOff after connection failures.
func ConsumeWithReconnect(ctx context.Context, dial Dialer, handler Handler) error {
	bo := backoff.WithContext(NewReconnectBackOff(), ctx)

	for {
		client, err := dial()
		if err == nil {
			bo.Reset()
			err = client.ConsumeExpenseCreated(ctx, handler)
			client.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !isConnectionError(err) && !strings.Contains(err.Error(), "message channel closed") {
			return err
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		slog.WarnContext(ctx, "AMQP consumer disconnected, reconnecting",
			"error", err,
			"retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
