package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.ObserveImport("claude", "success", 3*time.Second)
	c.ObserveImport("claude", "success", time.Second)
	c.ObserveImport("chatgpt", "navigation_failed", time.Second)
	c.ImageResolved("cache")
	c.ImageResolved("failed")
	c.ImageResolved("cache")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.imports.WithLabelValues("claude", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.imports.WithLabelValues("chatgpt", "navigation_failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.images.WithLabelValues("cache")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.duration, "chatimport_import_duration_seconds"))

	expected := `
# HELP chatimport_images_total Images processed, by the resolver tier that produced them or failed.
# TYPE chatimport_images_total counter
chatimport_images_total{tier="cache"} 2
chatimport_images_total{tier="failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "chatimport_images_total"))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.ImageResolved("rerender")
	second.ImageResolved("rerender")
	assert.Equal(t, 2.0, testutil.ToFloat64(first.images.WithLabelValues("rerender")))
}

func TestTrackOpenPages(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	open := 3
	require.NoError(t, c.TrackOpenPages(func() int { return open }))

	expected := `
# HELP chatimport_browser_open_pages Browser pages currently held by imports.
# TYPE chatimport_browser_open_pages gauge
chatimport_browser_open_pages 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "chatimport_browser_open_pages"))
}

func TestNilCollectors(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveImport("claude", "success", time.Second)
		c.ImageResolved("cache")
		assert.NoError(t, c.TrackOpenPages(func() int { return 0 }))
	})
}
