package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-live/internal/audio"
	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/control"
	"github.com/loqalabs/loqa-live/internal/eventstore"
	"github.com/loqalabs/loqa-live/internal/runtime"
	"github.com/loqalabs/loqa-live/internal/translate"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loqa-live",
		Short:         "Live speech translation with subtitles",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("LOQA_CONFIG"), "Path to configuration file")

	run := runCmd()
	root.AddCommand(
		run,
		devicesCmd(),
		languagesCmd(),
		historyCmd(),
		commandCmd("toggle", "Start or stop translation in the running instance", control.CmdToggle),
		commandCmd("status", "Show the running instance's session status", control.CmdStatus),
		commandCmd("quit", "Stop the running instance", control.CmdQuit),
		versionCmd(),
	)
	// Bare invocation runs the translator.
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func runCmd() *cobra.Command {
	var (
		logFile string
		device  string
		source  string
		target  string
		noView  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture, recognize and translate until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if device != "" {
				cfg.Session.Device = device
			}
			if source != "" {
				cfg.Session.SourceLanguage = source
			}
			if target != "" {
				cfg.Session.TargetLanguage = target
			}

			logOut := io.Writer(os.Stderr)
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				logOut = f
			}
			logger := newLogger(cfg.Telemetry.LogLevel, logOut)

			var out io.Writer = os.Stdout
			if noView {
				out = nil
			}
			rt := runtime.New(config.NewManager(configPath, cfg, logger), logger, out)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.Start(ctx); err != nil {
				logger.Error("runtime exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	cmd.Flags().StringVar(&device, "device", "", "Input device name (see 'devices')")
	cmd.Flags().StringVar(&source, "source", "", "Spoken language")
	cmd.Flags().StringVar(&target, "target", "", "Translation language")
	cmd.Flags().BoolVar(&noView, "no-view", false, "Do not draw the terminal view")
	return cmd
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List input devices for the configured audio backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger("error", os.Stderr)
			opener, release, err := runtime.OpenAudio(cfg.Audio, logger)
			if err != nil {
				return err
			}
			defer release()

			names, err := audio.DeviceNames(opener)
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			def := ""
			if d, ok := opener.(interface{ DefaultInputName() (string, error) }); ok {
				def, _ = d.DefaultInputName()
			}
			for _, name := range names {
				marker := " "
				if name == def || name == cfg.Session.Device {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func languagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRECOGNITION\tTRANSLATION")
			for _, l := range translate.Languages() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", l.Name, l.Recognition, l.Translation)
			}
			return w.Flush()
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Show journaled sessions, or the finals of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.EventStore.RetentionMode == "ephemeral" {
				return fmt.Errorf("the journal is disabled (event_store.retention_mode=ephemeral)")
			}
			ctx := cmd.Context()
			store, err := eventstore.Open(ctx, cfg.EventStore, newLogger("error", os.Stderr))
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(args) == 1 {
				utterances, err := store.ListUtterances(ctx, args[0], limit)
				if err != nil {
					return fmt.Errorf("list utterances: %w", err)
				}
				for _, u := range utterances {
					fmt.Fprintf(w, "%s\t%s\t%s\n", u.CreatedAt.Local().Format(time.TimeOnly), u.Original, u.Translated)
				}
				return w.Flush()
			}

			sessions, err := store.ListSessions(ctx, limit)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			fmt.Fprintln(w, "SESSION\tSTARTED\tLANGUAGES\tDEVICE\tEND")
			for _, s := range sessions {
				end := s.EndState
				if end == "" {
					end = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s→%s\t%s\t%s\n",
					s.ID, s.StartedAt.Local().Format(time.DateTime), s.SourceLanguage, s.TargetLanguage, s.Device, end)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows to show")
	return cmd
}

func commandCmd(use, short string, command byte) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			resp, err := control.SendCommand(cfg.Control.Socket, command)
			if err != nil {
				return fmt.Errorf("failed to %s: %w", use, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			if strings.HasPrefix(resp, "ERR") {
				return fmt.Errorf("%s rejected", use)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and the running instance's protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "loqa-live %s (control protocol %s)\n", version, control.ProtoVer)
			cfg, err := loadConfig()
			if err != nil {
				return nil
			}
			if resp, err := control.SendCommand(cfg.Control.Socket, control.CmdVersion); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "running instance: %s\n", resp)
			}
			return nil
		},
	}
}
