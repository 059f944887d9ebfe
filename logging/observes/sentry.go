package observes

import (
	"github.com/getsentry/sentry-go"
	"github.com/ncobase/nsearch/config"
)

// NewSentry initializes the global Sentry client.
// Returns false when no DSN is configured.
func NewSentry(c *config.Sentry, serverName string) (bool, error) {
	// if not exist sentry config, skip initialization
	if c == nil || c.Endpoint == "" {
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              c.Endpoint,
		AttachStacktrace: true,
		SampleRate:       c.SampleRate,
		ServerName:       serverName,
		Release:          c.Release,
		Environment:      c.Environment,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
