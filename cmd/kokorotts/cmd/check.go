package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/setup"
)

var checkProbe bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and suggest fixes",
	Long: `Check every configured entry against the known model and voice catalogs
and point out likely typos. Findings are advisory: unknown names are
passed to the backend verbatim, which keeps proxies with custom models
usable.

With --probe, each entry's backend is also asked for its model list,
which verifies the URL and API key without spending synthesis quota.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkProbe, "probe", false, "query each backend's models endpoint")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", cfgFile)
		}
		return err
	}
	setupLogger(newLevelVar(cfg.Server.LogLevel))

	if len(cfg.Entries) == 0 {
		fmt.Println("no entries configured")
		return nil
	}

	var probeFailures int
	for i := range cfg.Entries {
		e := &cfg.Entries[i]
		fmt.Printf("%s (%s)\n", e.Title(), e.Engine)

		problems := setup.CheckEntry(e)
		if len(problems) == 0 {
			fmt.Println("  settings ok")
		}
		for _, p := range problems {
			fmt.Printf("  warning: %s\n", p)
		}

		if checkProbe {
			res, err := setup.Probe(cmd.Context(), e)
			if err != nil {
				fmt.Printf("  probe failed: %v\n", err)
				probeFailures++
				continue
			}
			if res.ModelFound {
				fmt.Printf("  probe ok: backend lists %d models, including the configured one\n", len(res.Models))
			} else {
				fmt.Printf("  probe ok: backend lists %d models, but not the configured one\n", len(res.Models))
			}
		}
	}

	if probeFailures > 0 {
		return fmt.Errorf("%d of %d entries failed the probe", probeFailures, len(cfg.Entries))
	}
	return nil
}
