package di

import (
	"net/http"

	"go.uber.org/zap"

	"communitysync/application/session"
	"communitysync/infrastructure/config"
)

// Container holds the wired gateway
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Sessions *session.Manager
	Handler  http.Handler
}
