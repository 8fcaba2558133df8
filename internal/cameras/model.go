package cameras

import (
	"time"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

type Phase string

const (
	PhaseIdle Phase = "idle"
	PhaseLive Phase = "live"
)

// Endpoint tells an encoder where and how to push one track.
type Endpoint struct {
	IP          string `json:"ip"`
	RtpPort     int    `json:"rtpPort"`
	RtcpPort    int    `json:"rtcpPort"`
	PayloadType uint8  `json:"payloadType"`
	SSRC        uint32 `json:"ssrc"`
}

// Info is a point-in-time copy of one camera.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`

	Video Endpoint `json:"video"`
	Audio Endpoint `json:"audio"`

	VideoTransportID string `json:"videoTransportId"`
	AudioTransportID string `json:"audioTransportId"`
	VideoProducerID  string `json:"videoProducerId,omitempty"`
	AudioProducerID  string `json:"audioProducerId,omitempty"`
}

func (i Info) HasVideo() bool { return i.VideoProducerID != "" }
func (i Info) HasAudio() bool { return i.AudioProducerID != "" }

func (i Info) Phase() Phase {
	if i.HasVideo() || i.HasAudio() {
		return PhaseLive
	}
	return PhaseIdle
}

type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HasVideo    bool   `json:"hasVideo"`
	HasAudio    bool   `json:"hasAudio"`
	ViewerCount int    `json:"viewerCount"`
}

// ProducerIDs uses "" for a kind with no producer.
type ProducerIDs struct {
	Video string
	Audio string
}

// ProduceRequest names the kinds to publish. A request naming neither
// kind publishes both with defaults.
type ProduceRequest struct {
	Video *sfu.VideoParams
	Audio *sfu.AudioParams
}

type Tombstone struct {
	Reason string
	At     time.Time
}

type track struct {
	transport *sfu.PlainTransport
	producer  *sfu.Producer
}

type camera struct {
	id        string
	name      string
	createdAt time.Time
	video     track
	audio     track

	stop       func()
	produceSem chan struct{}
	closed     bool
}

func (c *camera) track(kind sfu.Kind) *track {
	if kind == sfu.KindVideo {
		return &c.video
	}
	return &c.audio
}

func (c *camera) hasProducers() bool {
	return c.video.producer != nil || c.audio.producer != nil
}

func endpoint(t *sfu.PlainTransport, pt uint8, ssrc uint32) Endpoint {
	return Endpoint{
		IP:          t.Tuple.LocalIP,
		RtpPort:     t.Tuple.LocalPort,
		RtcpPort:    t.RtcpPort(),
		PayloadType: pt,
		SSRC:        ssrc,
	}
}

func producerID(p *sfu.Producer) string {
	if p == nil {
		return ""
	}
	return p.ID
}
