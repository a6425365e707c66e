package app

import (
	"database/sql"

	"github.com/go-chi/oauth"

	"github.com/tauict/feedback/config"
	"github.com/tauict/feedback/notify"
)

type App struct {
	*sql.DB
	*oauth.BearerServer
	config.Config
	Notifier *notify.Notifier
}
