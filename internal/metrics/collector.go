package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StreamSnapshot is the per-camera view the collector reads at scrape time.
type StreamSnapshot struct {
	CameraID string
	HasVideo bool
	HasAudio bool
	Viewers  int
}

type Source interface {
	StreamSnapshots() []StreamSnapshot
}

// Config controls label cardinality.
type Config struct {
	PerCamera bool
}

// Collector exposes stream state without keeping its own copy of it.
type Collector struct {
	config Config
	source Source

	cameras   *prometheus.Desc
	producers *prometheus.Desc
	viewers   *prometheus.Desc
	perCamera *prometheus.Desc
}

func NewCollector(src Source, cfg Config) *Collector {
	return &Collector{
		config: cfg,
		source: src,
		cameras: prometheus.NewDesc(
			"streams_cameras_active",
			"Current number of registered cameras",
			nil, nil),
		producers: prometheus.NewDesc(
			"streams_producers_active",
			"Current number of ingest producers, by kind",
			[]string{"kind"}, nil),
		viewers: prometheus.NewDesc(
			"streams_viewers_active",
			"Distinct viewers summed over cameras",
			nil, nil),
		perCamera: prometheus.NewDesc(
			"streams_camera_viewers",
			"Distinct viewers of a camera",
			[]string{"camera_id"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cameras
	ch <- c.producers
	ch <- c.viewers
	if c.config.PerCamera {
		ch <- c.perCamera
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snaps := c.source.StreamSnapshots()

	var video, audio, viewers int
	for _, s := range snaps {
		if s.HasVideo {
			video++
		}
		if s.HasAudio {
			audio++
		}
		viewers += s.Viewers
		if c.config.PerCamera {
			ch <- prometheus.MustNewConstMetric(c.perCamera, prometheus.GaugeValue, float64(s.Viewers), s.CameraID)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.cameras, prometheus.GaugeValue, float64(len(snaps)))
	ch <- prometheus.MustNewConstMetric(c.producers, prometheus.GaugeValue, float64(video), "video")
	ch <- prometheus.MustNewConstMetric(c.producers, prometheus.GaugeValue, float64(audio), "audio")
	ch <- prometheus.MustNewConstMetric(c.viewers, prometheus.GaugeValue, float64(viewers))
}
