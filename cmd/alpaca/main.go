package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kiennt/alpaca-playground/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "alpaca",
	Short: "alpaca - resumable completion dispatcher",
	Long:  `alpaca sends batches of instruction records to a pool of chat agents and persists their answers so an interrupted run picks up where it stopped.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		return nil
	},
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	cfg     config.Config
	dataDir string
	envFile string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Directory holding <n>.json batches (env ALPACA_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file with FORMKEY, COOKIE and BOT_NAMES")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Flags are not parsed yet, so peek for --env-file before cobra runs.
	_ = godotenv.Load(envFileFromArgs(os.Args[1:]))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envFileFromArgs finds an --env-file value in raw arguments.
func envFileFromArgs(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--env-file" && i+1 < len(args):
			return args[i+1]
		case len(arg) > len("--env-file=") && arg[:len("--env-file=")] == "--env-file=":
			return arg[len("--env-file="):]
		}
	}
	return ".env"
}
