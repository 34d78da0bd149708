package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagServer  string
	flagName    string
	flagSTUN    string
	flagCapture string
)

var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Multi-party voice session client",
	Long: `Huddle connects to a signaling hub, creates or joins voice rooms,
and maintains direct WebRTC links to every other participant.`,
}

// Execute runs the root command.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", envOr("HUDDLE_SERVER", "http://localhost:8080"), "signaling hub base URL")
	rootCmd.PersistentFlags().StringVar(&flagName, "name", envOr("HUDDLE_NAME", ""), "display name")
	rootCmd.PersistentFlags().StringVar(&flagSTUN, "stun", envOr("HUDDLE_STUN", "stun:stun.l.google.com:19302"), "STUN server URI")
	rootCmd.PersistentFlags().StringVar(&flagCapture, "capture", os.Getenv("HUDDLE_CAPTURE"), "path to a PCM16 capture stream (silent source when empty)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(joinCmd)
}

// envOr lets environment variables override flag defaults so the same
// binary runs unmodified in containers.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
