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

	"github.com/mazrean/formbuf"
	"github.com/mazrean/formbuf/imageproc"
	"github.com/mazrean/formbuf/store"
	"github.com/mazrean/formbuf/upload"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open storage")
	}

	options := []upload.Option{
		upload.WithLogger(logger),
		upload.WithParserOptions(append(cfg.parserOptions(), formbuf.WithLogger(logger))...),
	}
	if cfg.Upload.Normalize {
		options = append(options, upload.WithNormalizer(imageproc.NewNormalizer(imageproc.DefaultConfig)))
	}

	mux := http.NewServeMux()
	upload.NewHandler(s, options...).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           upload.RequestID(upload.AccessLog(logger, mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("failed to shut down")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":    cfg.Addr,
		"storage": cfg.Storage.Kind,
	}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server stopped")
	}
}

func newStore(ctx context.Context, cfg config, logger logrus.FieldLogger) (store.Store, error) {
	switch cfg.Storage.Kind {
	case "minio":
		s, err := store.NewMinioStore(ctx, cfg.Storage.Minio)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "disk", "":
		s, err := store.NewDiskStore(cfg.Storage.Dir, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.New("unknown storage kind " + cfg.Storage.Kind)
	}
}
