// Package static is a push platform for hosts without OS push services.
// Every answer comes from configuration.
package static

import (
	"context"
	"errors"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/completion"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

// ErrNoToken is returned by FetchToken when no token is configured.
var ErrNoToken = errors.New("no push token configured")

type Config struct {
	PushAvailable bool
	// GrantAuthorization is the answer to every permission request.
	GrantAuthorization bool
	Status             sdk.PermissionStatus
	Token              string
}

type Platform struct {
	cfg Config
}

func New(cfg Config) *Platform {
	if cfg.Status == "" {
		cfg.Status = sdk.PermissionNotDetermined
	}
	return &Platform{cfg: cfg}
}

func (p *Platform) PushAvailable() bool {
	return p.cfg.PushAvailable
}

func (p *Platform) RequestAuthorization(context.Context) *completion.Future[bool] {
	return completion.Resolved(p.cfg.GrantAuthorization)
}

func (p *Platform) AuthorizationStatus(context.Context) *completion.Future[sdk.PermissionStatus] {
	return completion.Resolved(p.cfg.Status)
}

func (p *Platform) FetchToken(context.Context) *completion.Future[string] {
	if p.cfg.Token == "" {
		return completion.Rejected[string](ErrNoToken)
	}
	return completion.Resolved(p.cfg.Token)
}
