package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/polzovatel/stepwright/internal/browser"
	"github.com/polzovatel/stepwright/internal/cache"
	"github.com/polzovatel/stepwright/internal/config"
	"github.com/polzovatel/stepwright/internal/executor"
	"github.com/polzovatel/stepwright/internal/fingerprint"
	"github.com/polzovatel/stepwright/internal/grammar"
	"github.com/polzovatel/stepwright/internal/matcher"
	"github.com/polzovatel/stepwright/internal/parser"
	"github.com/polzovatel/stepwright/internal/runner"
)

var runFlags struct {
	url  string
	file string
}

var runCmd = &cobra.Command{
	Use:   "run [instruction ...]",
	Short: "Execute instructions against a live browser page",
	Long: `Execute one or more plain-English instructions in order.
Instructions come from positional arguments, from a file (--file,
one instruction per line, # comments allowed), or both. Query
instructions print their result to stdout.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.url, "url", "", "Page to open before the first instruction")
	f.StringVarP(&runFlags.file, "file", "f", "", "File with one instruction per line")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return err
	}

	instructions, err := collectInstructions(args, runFlags.file)
	if err != nil {
		return err
	}
	if len(instructions) == 0 {
		return fmt.Errorf("no instructions given; pass them as arguments or via --file")
	}

	launcher, err := browser.NewLauncher(ctx, cfg.Browser.Headless)
	if err != nil {
		return fmt.Errorf("browser init: %w", err)
	}
	defer launcher.Close()

	timeouts := browser.Timeouts{
		Action:     cfg.Browser.ActionTimeout,
		Navigation: cfg.Browser.NavigationTimeout,
	}
	page, err := launcher.NewPage(ctx, timeouts, cfg.Browser.SnapshotTTL)
	if err != nil {
		return fmt.Errorf("new page: %w", err)
	}

	var store *cache.Store
	if cfg.Cache.Enabled {
		store, err = cache.Open(cfg.Cache.Path, log.With().Str("comp", "cache").Logger(),
			cache.WithTTL(cfg.Cache.TTL),
			cache.WithMaxEntries(cfg.Cache.MaxEntries),
		)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("cache close")
			}
		}()
	}

	healer := fingerprint.NewHealer(log.With().Str("comp", "healer").Logger(), fingerprint.DefaultMinScore)

	matchOpts := []matcher.Option{
		matcher.WithThreshold(cfg.Matcher.Threshold),
		matcher.WithHealer(healer),
	}
	execOpts := []executor.Option{
		executor.WithScreenshotDir(cfg.Executor.ScreenshotDir),
		executor.WithAssertTimeout(cfg.Executor.AssertTimeout),
	}
	if store != nil {
		matchOpts = append(matchOpts, matcher.WithCache(store))
		execOpts = append(execOpts, executor.WithCache(store))
	}

	m := matcher.New(log.With().Str("comp", "matcher").Logger(), matchOpts...)
	ex := executor.New(m, log.With().Str("comp", "executor").Logger(), execOpts...)
	engine := grammar.NewEngine(log.With().Str("comp", "grammar").Logger())
	p := parser.New(engine, log.With().Str("comp", "parser").Logger())
	r := runner.New(p, m, ex, log.With().Str("comp", "runner").Logger())

	if runFlags.url != "" {
		if err := page.Navigate(ctx, runFlags.url); err != nil {
			return fmt.Errorf("open %s: %w", runFlags.url, err)
		}
	}

	for i, instruction := range instructions {
		val, err := r.Execute(ctx, page, instruction)
		if err != nil {
			return fmt.Errorf("instruction %d (%q): %w", i+1, instruction, err)
		}
		if val != nil {
			fmt.Println(val)
		}
	}
	return nil
}

// collectInstructions merges --file lines with positional arguments,
// file first. Blank lines and lines starting with # are skipped.
func collectInstructions(args []string, path string) ([]string, error) {
	var out []string
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open instruction file: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			out = append(out, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read instruction file: %w", err)
		}
	}
	for _, a := range args {
		if s := strings.TrimSpace(a); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
