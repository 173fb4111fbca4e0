// Package notification delivers operator alerts through shoutrrr services.
package notification

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/privacy"
)

// DefaultSendTimeout bounds a single delivery to all services.
const DefaultSendTimeout = 15 * time.Second

// sender is satisfied by *router.ServiceRouter.
type sender interface {
	Send(message string, params *types.Params) []error
}

// Notifier sends alerts to every configured service URL. Delivery is rate
// limited and guarded by a circuit breaker so a broken service cannot
// slow down the callers.
type Notifier struct {
	sender  sender
	limiter *rate.Limiter
	breaker *CircuitBreaker
	log     logger.Logger
}

// GetLogger returns the notification module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}

// New builds a Notifier from settings. It returns nil without error when
// notifications are disabled.
func New(settings *conf.NotificationSettings) (*Notifier, error) {
	if !settings.Enabled {
		return nil, nil
	}
	urls := make([]string, 0, len(settings.URLs))
	for _, u := range settings.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, errors.Newf("notification: at least one service URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// service URLs carry tokens
		return nil, errors.New(privacy.WrapError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router.Timeout = DefaultSendTimeout
	router.SetLogger(log.New(io.Discard, "", 0))

	return newNotifier(router), nil
}

func newNotifier(s sender) *Notifier {
	return &Notifier{
		sender:  s,
		limiter: rate.NewLimiter(rate.Every(time.Second), 10),
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		log:     GetLogger(),
	}
}

// Send delivers title and message. A nil Notifier discards the alert.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	if n == nil {
		return nil
	}
	if !n.limiter.Allow() {
		n.log.Warn("alert dropped by rate limiter", logger.String("title", title))
		return errors.Newf("notification rate limit exceeded").
			Component("notification").
			Category(errors.CategoryLimit).
			Build()
	}

	err := n.breaker.Call(ctx, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := types.Params{}
		if title != "" {
			params.SetTitle(title)
		}
		for _, e := range n.sender.Send(message, &params) {
			if e != nil {
				return privacy.WrapError(e)
			}
		}
		return nil
	})
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNotification).
			Build()
	}
	n.log.Debug("alert delivered", logger.String("title", title))
	return nil
}
