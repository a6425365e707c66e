package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/tauict/feedback/app"
	"github.com/tauict/feedback/config"
	"github.com/tauict/feedback/database"
	"github.com/tauict/feedback/httpx"
	"github.com/tauict/feedback/log"
	"github.com/tauict/feedback/notify"
	"github.com/tauict/feedback/routes"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()

	bearerServer := httpx.NewBearerServer(db, cfg)
	notifier := notify.New(db, notify.NewSMTPSender(cfg.Mail), cfg.Mail)

	app := app.App{
		DB:           db,
		BearerServer: bearerServer,
		Config:       cfg,
		Notifier:     notifier,
	}

	handler := routes.Wire(app)

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
}

func runServer(cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
