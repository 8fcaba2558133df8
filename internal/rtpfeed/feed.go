// Package rtpfeed pushes synthetic RTP at a camera's ingest endpoints. It
// stands in for a real encoder when exercising the ingest path.
package rtpfeed

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const mtu = 1200

type Track struct {
	PayloadType uint8
	SSRC        uint32
	ClockRate   uint32
	// FrameInterval is the wall time between frames.
	FrameInterval time.Duration
	// FrameSize is the payload bytes generated per frame.
	FrameSize int
}

func VideoTrack(pt uint8, ssrc uint32) Track {
	return Track{PayloadType: pt, SSRC: ssrc, ClockRate: 90000, FrameInterval: time.Second / 25, FrameSize: 4000}
}

func AudioTrack(pt uint8, ssrc uint32) Track {
	return Track{PayloadType: pt, SSRC: ssrc, ClockRate: 48000, FrameInterval: 20 * time.Millisecond, FrameSize: 120}
}

type Feeder struct {
	w          io.Writer
	track      Track
	packetizer rtp.Packetizer
	frame      func(size int) []byte

	packets atomic.Uint64
	bytes   atomic.Uint64
}

// NewVideo packetizes synthetic H264 IDR frames.
func NewVideo(w io.Writer, t Track) *Feeder {
	return newFeeder(w, t, &codecs.H264Payloader{}, h264Frame)
}

// NewAudio sends opaque Opus-sized frames, one per packet.
func NewAudio(w io.Writer, t Track) *Feeder {
	return newFeeder(w, t, &codecs.OpusPayloader{}, noise)
}

func newFeeder(w io.Writer, t Track, p rtp.Payloader, frame func(int) []byte) *Feeder {
	return &Feeder{
		w:          w,
		track:      t,
		packetizer: rtp.NewPacketizer(mtu, t.PayloadType, t.SSRC, p, rtp.NewRandomSequencer(), t.ClockRate),
		frame:      frame,
	}
}

// Dial opens the UDP socket a feeder writes to.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// SendFrame packetizes and writes one frame.
func (f *Feeder) SendFrame() error {
	samples := uint32(int64(f.track.FrameInterval) * int64(f.track.ClockRate) / int64(time.Second))
	for _, pkt := range f.packetizer.Packetize(f.frame(f.track.FrameSize), samples) {
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if _, err := f.w.Write(buf); err != nil {
			return err
		}
		f.packets.Add(1)
		f.bytes.Add(uint64(len(buf)))
	}
	return nil
}

// Run sends a frame every FrameInterval until ctx is done.
func (f *Feeder) Run(ctx context.Context) error {
	t := time.NewTicker(f.track.FrameInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := f.SendFrame(); err != nil {
				return err
			}
		}
	}
}

func (f *Feeder) Sent() (packets, bytes uint64) {
	return f.packets.Load(), f.bytes.Load()
}

func noise(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

// h264Frame is an Annex B IDR slice with a random body. Zero bytes are
// kept out of the body so it never holds a start code.
func h264Frame(n int) []byte {
	b := noise(n)
	for i := range b {
		if b[i] == 0 {
			b[i] = 0xff
		}
	}
	copy(b, []byte{0x00, 0x00, 0x00, 0x01, 0x65})
	return b
}
