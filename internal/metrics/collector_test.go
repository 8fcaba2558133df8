package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
)

type staticSource []metrics.StreamSnapshot

func (s staticSource) StreamSnapshots() []metrics.StreamSnapshot { return s }

func TestCollector_Aggregates(t *testing.T) {
	src := staticSource{
		{CameraID: "a", HasVideo: true, HasAudio: true, Viewers: 2},
		{CameraID: "b", HasVideo: true, Viewers: 1},
		{CameraID: "c"},
	}
	c := metrics.NewCollector(src, metrics.Config{})

	expected := `
# HELP streams_cameras_active Current number of registered cameras
# TYPE streams_cameras_active gauge
streams_cameras_active 3
# HELP streams_producers_active Current number of ingest producers, by kind
# TYPE streams_producers_active gauge
streams_producers_active{kind="audio"} 1
streams_producers_active{kind="video"} 2
# HELP streams_viewers_active Distinct viewers summed over cameras
# TYPE streams_viewers_active gauge
streams_viewers_active 3
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected))
	assert.NoError(t, err)
}

func TestCollector_PerCameraLabels(t *testing.T) {
	src := staticSource{
		{CameraID: "a", Viewers: 2},
		{CameraID: "b", Viewers: 0},
	}

	off := metrics.NewCollector(src, metrics.Config{})
	assert.Equal(t, 0, testutil.CollectAndCount(off, "streams_camera_viewers"))

	on := metrics.NewCollector(src, metrics.Config{PerCamera: true})
	assert.Equal(t, 2, testutil.CollectAndCount(on, "streams_camera_viewers"))
}
