// Package metrics exports import activity to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatimport"

// Collectors holds the import counters. A nil *Collectors records nothing.
type Collectors struct {
	reg      prometheus.Registerer
	imports  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	images   *prometheus.CounterVec
}

// New registers the collectors with reg, or the default registerer when reg
// is nil. Collectors already registered under the same names are reused.
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	imports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "imports_total",
		Help:      "Imports attempted, by platform and outcome.",
	}, []string{"platform", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "import_duration_seconds",
		Help:      "Wall time of an import from URL to result.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"platform"})
	images := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "images_total",
		Help:      "Images processed, by the resolver tier that produced them or failed.",
	}, []string{"tier"})

	var err error
	c := &Collectors{reg: reg}
	if c.imports, err = register(reg, imports); err != nil {
		return nil, err
	}
	if c.duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if c.images, err = register(reg, images); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// ObserveImport counts one finished import.
func (c *Collectors) ObserveImport(platform, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.imports.WithLabelValues(platform, outcome).Inc()
	c.duration.WithLabelValues(platform).Observe(elapsed.Seconds())
}

// ImageResolved counts one image by tier.
func (c *Collectors) ImageResolved(tier string) {
	if c == nil {
		return
	}
	c.images.WithLabelValues(tier).Inc()
}

// TrackOpenPages exports fn as the number of browser pages currently open.
func (c *Collectors) TrackOpenPages(fn func() int) error {
	if c == nil {
		return nil
	}
	_, err := register(c.reg, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browser_open_pages",
		Help:      "Browser pages currently held by imports.",
	}, func() float64 { return float64(fn()) }))
	return err
}
