package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mpataki/exo/internal/actionlog"
	"github.com/mpataki/exo/internal/demo"
	"github.com/mpataki/exo/internal/models"
	"github.com/mpataki/exo/internal/state"
	"github.com/mpataki/exo/internal/storage"
	"github.com/mpataki/exo/internal/tui"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "exo",
		Short:        "Command console with a live action log",
		Long:         "Exo runs commands in the background and keeps an append-only log of their output and status.",
		RunE:         runTUI,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("worker", "shell", "Background worker: shell, idle or lua")
	flags.String("script", "", "Lua script for the lua worker")
	flags.Int("workers", 4, "Number of commands the shell worker runs at once")
	flags.Duration("timeout", 0, "Kill commands running longer than this (0 disables)")
	flags.String("corpus", "", "Line corpus for demo actions (default ~/.bash_history)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.Flags().Int("demo", 19, "Number of demo actions to seed the log with")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newDemoCommand())
	return rootCmd
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	sess, err := openSession(cfg, logger, cfg.DemoCount)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	stop, failed := sess.start(ctx)

	p := tea.NewProgram(tui.NewApp(sess.router), tea.WithAltScreen(), tea.WithMouseCellMotion())
	go func() {
		select {
		case <-failed:
			p.Quit()
		case <-ctx.Done():
		}
	}()

	_, runErr := p.Run()
	cancel()
	if err := stop(); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	return runErr
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <command>...",
		Short: "Run commands without the TUI and print their output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer logger.Close()

			sess, err := openSession(cfg, logger, 0)
			if err != nil {
				return err
			}
			defer sess.Close()

			events := sess.router.Subscribe(1024)
			ctx, cancel := context.WithCancel(cmd.Context())
			stop, failed := sess.start(ctx)
			defer func() {
				cancel()
				stop()
			}()

			var ids []actionlog.ID
			for _, command := range args {
				id, err := sess.router.Submit(ctx, command)
				if err != nil {
					return fmt.Errorf("failed to submit %q: %w", command, err)
				}
				ids = append(ids, id)
			}

			printer := newPrinter(sess.router, ids)
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for !printer.done() {
				select {
				case <-failed:
					return fmt.Errorf("worker stopped before all commands finished")
				case <-ctx.Done():
					return ctx.Err()
				case <-events:
				case <-ticker.C:
				}
				printer.flush()
			}

			if n := printer.failures(); n > 0 {
				return fmt.Errorf("%d of %d commands failed", n, len(ids))
			}
			return nil
		},
	}
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// printer streams output of the given actions to stdout in submission
// order: an action's lines are printed once every earlier action finished.
type printer struct {
	router  *state.Router
	ids     []actionlog.ID
	next    int
	printed int
	header  bool
}

func newPrinter(router *state.Router, ids []actionlog.ID) *printer {
	return &printer{router: router, ids: ids}
}

func (p *printer) done() bool {
	return p.next >= len(p.ids)
}

func (p *printer) flush() {
	for !p.done() {
		a, err := p.router.Get(p.ids[p.next])
		if err != nil {
			return
		}
		if !p.header {
			fmt.Println(headerStyle.Render("$ " + a.Command))
			p.header = true
		}
		for _, line := range a.Output[p.printed:] {
			fmt.Println(line)
		}
		p.printed = len(a.Output)
		if !a.Status.Terminal() {
			return
		}
		fmt.Println(formatStatus(a))
		p.next++
		p.printed = 0
		p.header = false
	}
}

func (p *printer) failures() int {
	n := 0
	for _, id := range p.ids {
		if a, err := p.router.Get(id); err == nil && a.Status == models.ActionStatusFailed {
			n++
		}
	}
	return n
}

func formatStatus(a models.Action) string {
	code := ""
	if a.ExitCode != nil {
		code = fmt.Sprintf(" (exit %d)", *a.ExitCode)
	}
	switch a.Status {
	case models.ActionStatusSuccess:
		return successStyle.Render("✓ success" + code)
	case models.ActionStatusFailed:
		return failedStyle.Render("✗ failed" + code)
	default:
		return runningStyle.Render("● running")
	}
}

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := storage.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			sessionID, _ := cmd.Flags().GetString("session")
			showOutput, _ := cmd.Flags().GetBool("output")

			var records []*storage.Record
			if sessionID != "" {
				records, err = store.ListSession(sessionID)
			} else {
				records, err = store.ListActions(limit)
			}
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Println("No actions recorded.")
				return nil
			}

			for _, rec := range records {
				a := models.Action{Command: rec.Command, Status: rec.Status, ExitCode: rec.ExitCode}
				fmt.Printf("%s  %-8s %s  %s\n",
					dimStyle.Render(rec.SessionID[:8]),
					storage.FormatTimeAgo(rec.CreatedAt),
					formatStatus(a),
					truncate(rec.Command, 60))
				if showOutput {
					for _, line := range rec.Output {
						fmt.Println("    " + line)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Number of actions to list")
	cmd.Flags().StringP("session", "s", "", "Only list actions of this session")
	cmd.Flags().BoolP("output", "o", false, "Print captured output")
	return cmd
}

func newDemoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Print generated demo actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer logger.Close()

			count, _ := cmd.Flags().GetInt("count")
			corpus := demo.LoadCorpusOrEmpty(cfg.Corpus, logger.Logger)
			actions := demo.NewGenerator(corpus, nil).Actions(count)
			if len(actions) == 0 {
				return errors.New("no demo actions: corpus is empty")
			}

			for _, a := range actions {
				fmt.Println(headerStyle.Render("$ "+a.Command) + "  " + formatStatus(a))
				fmt.Println(strings.Join(a.Output, "\n"))
			}
			return nil
		},
	}

	cmd.Flags().IntP("count", "c", 5, "Number of actions to generate")
	return cmd
}

// truncate shortens s to at most maxLen runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
