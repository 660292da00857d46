package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	serverKey    = "server"
	verboseKey   = "verbose"
	toleranceKey = "sync.drift_tolerance"
)

var rootCmd = &cobra.Command{
	Use:   "watchparty",
	Short: "Terminal participant for a watch party relay.",
	Long: `watchparty joins a room on a watch party relay, relays chat from stdin
and keeps a local in-memory player in sync with the room.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.WarnLevel
		if viper.GetBool(verboseKey) {
			level = zerolog.DebugLevel
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(level)
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("server", "ws://localhost:8080/api/ws", "relay WebSocket endpoint")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")

	_ = viper.BindPFlag(serverKey, rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag(verboseKey, rootCmd.PersistentFlags().Lookup("verbose"))
	viper.SetEnvPrefix("WATCHPARTY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
