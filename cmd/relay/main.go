// Command relay runs and schedules integrations.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/relay/pkg/logger"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load() // a missing .env is fine

	var configPath string
	root := &cobra.Command{
		Use:   "relay",
		Short: "Relay - scheduled integration runner",
		Long: `Relay moves data between configured endpoints. Each integration extracts
from a source adapter, maps fields through registered transformations and
loads the result into a destination adapter, on demand or on a cron schedule.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RELAY_CONFIG"), "Path to the YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Relay v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(
		serveCommand(&configPath),
		runCommand(&configPath),
		integrationsCommand(&configPath),
		transformsCommand(),
		cronCommand(),
		poolCommand(&configPath),
	)

	err := root.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
