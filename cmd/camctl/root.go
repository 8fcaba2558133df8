package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	server string
	token  string
	json   bool
}

func newRootCmd() *cobra.Command {
	_ = godotenv.Load()

	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "camctl",
		Short:         "Operate the camera control plane",
		Long:          "Register plain-RTP cameras, start their producers, inspect viewers and push test RTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("CAMCTL_SERVER", "http://127.0.0.1:3000"), "control plane base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CAMCTL_TOKEN"), "operator bearer token")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		newStreamsCmd(opts),
		newCreateCmd(opts),
		newProduceCmd(opts),
		newProducersCmd(opts),
		newViewersCmd(opts),
		newCloseCmd(opts),
		newTokenCmd(),
		newFeedCmd(opts),
	)
	return root
}

func (o *globalOptions) client() *apiClient {
	return newAPIClient(o.server, o.token)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
