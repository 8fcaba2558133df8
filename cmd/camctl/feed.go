package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/rtpfeed"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

type feedOptions struct {
	create    string
	videoAddr string
	audioAddr string
	duration  time.Duration
	produce   produceFlags
}

func newFeedCmd(opts *globalOptions) *cobra.Command {
	var f feedOptions
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Push synthetic H264/Opus RTP at a camera's ingest ports",
		Long: "Sends packetized test frames to the given addresses. With --create a camera is\n" +
			"registered and produced first and its endpoints are used.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			video := rtpfeed.VideoTrack(orDefault(f.produce.videoPT, sfu.DefaultVideoPayloadType), orDefault(f.produce.videoSSRC, sfu.DefaultVideoSSRC))
			audio := rtpfeed.AudioTrack(orDefault(f.produce.audioPT, sfu.DefaultAudioPayloadType), orDefault(f.produce.audioSSRC, sfu.DefaultAudioSSRC))

			if f.create != "" {
				cam, err := createCamera(cmd, opts, f.create)
				if err != nil {
					return err
				}
				if _, err := produce(cmd, opts, cam.ID, f.produce); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "camera %s producing\n", cam.ID)
				f.videoAddr, f.audioAddr = endpointAddr(cam.Video), endpointAddr(cam.Audio)
				video.PayloadType, video.SSRC = cam.Video.PayloadType, cam.Video.SSRC
				audio.PayloadType, audio.SSRC = cam.Audio.PayloadType, cam.Audio.SSRC
				if f.produce.video && !f.produce.audio {
					f.audioAddr = ""
				}
				if f.produce.audio && !f.produce.video {
					f.videoAddr = ""
				}
			}
			if f.videoAddr == "" && f.audioAddr == "" {
				return errors.New("nothing to feed: pass --create or --video-addr/--audio-addr")
			}

			if f.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, f.duration)
				defer cancel()
			}

			var feeders []*rtpfeed.Feeder
			g, gctx := errgroup.WithContext(ctx)
			start := func(addr string, mk func(net.Conn) *rtpfeed.Feeder) error {
				if addr == "" {
					return nil
				}
				conn, err := rtpfeed.Dial(ctx, addr)
				if err != nil {
					return err
				}
				fd := mk(conn)
				feeders = append(feeders, fd)
				g.Go(func() error {
					defer conn.Close()
					return fd.Run(gctx)
				})
				return nil
			}
			if err := start(f.videoAddr, func(c net.Conn) *rtpfeed.Feeder { return rtpfeed.NewVideo(c, video) }); err != nil {
				return err
			}
			if err := start(f.audioAddr, func(c net.Conn) *rtpfeed.Feeder { return rtpfeed.NewAudio(c, audio) }); err != nil {
				return err
			}

			err := g.Wait()
			for _, fd := range feeders {
				pkts, bytes := fd.Sent()
				fmt.Fprintf(cmd.OutOrStdout(), "sent %d packets, %d bytes\n", pkts, bytes)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.create, "create", "", "register a camera with this name and feed it")
	cmd.Flags().StringVar(&f.videoAddr, "video-addr", "", "host:port for video RTP")
	cmd.Flags().StringVar(&f.audioAddr, "audio-addr", "", "host:port for audio RTP")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	addProduceFlags(cmd, &f.produce)
	return cmd
}

func endpointAddr(ep cameras.Endpoint) string {
	if ep.RtpPort == 0 {
		return ""
	}
	return net.JoinHostPort(ep.IP, strconv.Itoa(ep.RtpPort))
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
