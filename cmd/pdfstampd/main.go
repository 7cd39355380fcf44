package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wudi/pdfstamp/config"
	"github.com/wudi/pdfstamp/server"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logrus.WithError(err).Fatal("load .env")
	}
	flags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	flags.Apply(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	rt, err := cfg.Build(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("configure")
	}
	defer rt.Close()

	srv := server.New(rt.Compositor, rt.Store, rt.Sink,
		server.WithLogger(rt.Log),
		server.WithMaxUpload(cfg.MaxUploadBytes()))
	hs := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		rt.Log.WithField("addr", cfg.Listen).Info("starting server")
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			rt.Log.WithError(err).Error("server stopped")
		}
	case <-ctx.Done():
		rt.Log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			rt.Log.WithError(err).Error("shutdown")
		}
	}
}
