package main

import (
	"context"
	"errors"
	"fmt"

	"chatimport/internal/archive"
	"chatimport/internal/browser"
	"chatimport/internal/capture"
	"chatimport/internal/images"
	"chatimport/internal/importer"
	"chatimport/internal/logging"
	"chatimport/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds the long-lived components shared by the commands.
type app struct {
	browser  *browser.SessionManager
	importer *importer.Importer
	archive  *archive.Archive
	registry *prometheus.Registry
	metrics  *metrics.Collectors
	store    *images.FileStore
}

func newApp(withArchive bool) (*app, error) {
	log := logging.Named(logger, logging.CategoryBoot)
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, err
	}
	a.metrics = m

	a.store, err = images.NewFileStore(cfg.Storage.ImagesDir)
	if err != nil {
		return nil, err
	}
	log.Debug("image store ready", zap.String("root", a.store.Root()))

	a.browser = browser.NewSessionManager(cfg.BrowserSettings(), capture.DefaultClassifier(), logging.Named(logger, logging.CategoryBrowser))
	if err := m.TrackOpenPages(a.browser.OpenPages); err != nil {
		return nil, err
	}

	a.importer, err = importer.New(importer.BrowserPages(a.browser), importer.Options{
		NavigationTimeout: cfg.GetNavigationTimeout(),
		ReadyTimeout:      cfg.GetReadyTimeout(),
		ExtractTimeout:    cfg.GetExtractTimeout(),
		ImageTimeout:      cfg.GetImageTimeout(),
		SettleDelay:       cfg.GetSettleDelay(),
		JobTimeout:        cfg.GetJobTimeout(),
		Store:             a.store,
		Logger:            logging.Named(logger, logging.CategoryImporter),
		Metrics:           m,
	})
	if err != nil {
		return nil, err
	}

	if withArchive && cfg.Archive.Enabled {
		a.archive, err = archive.Open(cfg.Archive.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		log.Debug("archive opened", zap.String("path", a.archive.Path()))
	}
	return a, nil
}

// close shuts the browser down and closes the archive.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.browser.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("browser shutdown: %w", err))
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("archive close: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.Named(logger, logging.CategoryBoot).Warn("shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}
