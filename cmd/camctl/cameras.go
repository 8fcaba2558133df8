package main

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

type createdCamera struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Video cameras.Endpoint `json:"video"`
	Audio cameras.Endpoint `json:"audio"`
}

type producerPair struct {
	VideoID *string `json:"videoId"`
	AudioID *string `json:"audioId"`
}

type producerIDs struct {
	VideoProducerID *string `json:"videoProducerId"`
	AudioProducerID *string `json:"audioProducerId"`
}

type produceResult struct {
	ID        string       `json:"id"`
	Producers producerPair `json:"producers"`
}

type viewerList struct {
	Count int      `json:"count"`
	IPs   []string `json:"ips"`
}

func newStreamsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "streams",
		Short: "List cameras with a live producer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list []cameras.Summary
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/streams", nil, &list); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, list)
			}
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVIDEO\tAUDIO\tVIEWERS")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\n", s.ID, s.Name, s.HasVideo, s.HasAudio, s.ViewerCount)
			}
			return w.Flush()
		},
	}
}

func createCamera(cmd *cobra.Command, opts *globalOptions, name string) (createdCamera, error) {
	var cam createdCamera
	err := opts.client().do(cmd.Context(), http.MethodPost, "/cameras/createPlainRtp", map[string]string{"name": name}, &cam)
	return cam, err
}

func newCreateCmd(opts *globalOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Allocate ingest endpoints for a new camera",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cam, err := createCamera(cmd, opts, name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, cam)
			}
			fmt.Fprintf(out, "camera %s (%s)\n", cam.ID, cam.Name)
			printEndpoint(cmd, "video", cam.Video)
			printEndpoint(cmd, "audio", cam.Audio)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func printEndpoint(cmd *cobra.Command, kind string, ep cameras.Endpoint) {
	fmt.Fprintf(cmd.OutOrStdout(), "  %s  rtp=%s:%d rtcp=%d pt=%d ssrc=%d\n", kind, ep.IP, ep.RtpPort, ep.RtcpPort, ep.PayloadType, ep.SSRC)
}

type produceFlags struct {
	video, audio bool
	videoPT      uint8
	videoSSRC    uint32
	profile      string
	audioPT      uint8
	audioSSRC    uint32
}

// body omits a kind the caller did not ask for; naming neither asks for both.
func (f produceFlags) body() map[string]any {
	body := map[string]any{}
	if f.video {
		body["video"] = sfu.VideoParams{PayloadType: f.videoPT, SSRC: f.videoSSRC, ProfileLevelID: f.profile}
	}
	if f.audio {
		body["audio"] = sfu.AudioParams{PayloadType: f.audioPT, SSRC: f.audioSSRC}
	}
	return body
}

func produce(cmd *cobra.Command, opts *globalOptions, id string, f produceFlags) (produceResult, error) {
	var res produceResult
	err := opts.client().do(cmd.Context(), http.MethodPost, "/cameras/"+url.PathEscape(id)+"/produce", f.body(), &res)
	return res, err
}

func newProduceCmd(opts *globalOptions) *cobra.Command {
	var f produceFlags
	cmd := &cobra.Command{
		Use:   "produce <camera-id>",
		Short: "Start producers on a camera's ingest transports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := produce(cmd, opts, args[0], f)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printProducers(cmd, res.Producers)
			return nil
		},
	}
	addProduceFlags(cmd, &f)
	return cmd
}

func addProduceFlags(cmd *cobra.Command, f *produceFlags) {
	cmd.Flags().BoolVar(&f.video, "video", false, "produce video")
	cmd.Flags().BoolVar(&f.audio, "audio", false, "produce audio")
	cmd.Flags().Uint8Var(&f.videoPT, "video-pt", 0, "video payload type (server default when 0)")
	cmd.Flags().Uint32Var(&f.videoSSRC, "video-ssrc", 0, "video SSRC (server default when 0)")
	cmd.Flags().StringVar(&f.profile, "profile-level-id", "", "H264 profile-level-id")
	cmd.Flags().Uint8Var(&f.audioPT, "audio-pt", 0, "audio payload type (server default when 0)")
	cmd.Flags().Uint32Var(&f.audioSSRC, "audio-ssrc", 0, "audio SSRC (server default when 0)")
}

func printProducers(cmd *cobra.Command, p producerPair) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "video  %s\n", orDash(p.VideoID))
	fmt.Fprintf(out, "audio  %s\n", orDash(p.AudioID))
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func newProducersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "producers <camera-id>",
		Short: "Show a camera's producer ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p producerIDs
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/cameras/"+url.PathEscape(args[0])+"/producers", nil, &p); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), p)
			}
			printProducers(cmd, producerPair{VideoID: p.VideoProducerID, AudioID: p.AudioProducerID})
			return nil
		},
	}
}

func newViewersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "viewers <camera-id>",
		Short: "Count distinct viewers of a camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v viewerList
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/cameras/"+url.PathEscape(args[0])+"/viewers", nil, &v); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, v)
			}
			fmt.Fprintf(out, "%d viewer(s)\n", v.Count)
			for _, ip := range v.IPs {
				fmt.Fprintf(out, "  %s\n", ip)
			}
			return nil
		},
	}
}

func newCloseCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "close <camera-id>",
		Short: "Tear down a camera and every viewer attached to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/cameras/"+url.PathEscape(args[0])+"/close", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", args[0])
			return nil
		},
	}
}
