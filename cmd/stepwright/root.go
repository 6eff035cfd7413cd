package main

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootFlags struct {
	configPath string
	verbose    bool
}

var rootCmd = &cobra.Command{
	Use:   "stepwright",
	Short: "Run web pages from plain-English instructions",
	Long: `stepwright turns plain-English instructions such as
"Click the Login button" or "Type 'a@b.com' in the Email field"
into browser actions. Instructions are parsed by a deterministic
grammar and resolved against the page's accessibility tree; no
network calls are made to interpret them.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if rootFlags.verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Path to YAML config file")
	pf.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(parseCmd)

	cobra.OnInitialize(func() {
		log.Debug().Str("config", rootFlags.configPath).Msg("cli initialized")
	})
}
