package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/MrWong99/asrlink/internal/app"
	"github.com/MrWong99/asrlink/internal/config"
	"github.com/MrWong99/asrlink/internal/observe"
	"github.com/MrWong99/asrlink/internal/session"
	"github.com/MrWong99/asrlink/pkg/protocol"
)

var (
	streamRecordID string
	streamEndpoint string
	streamProfile  string
	streamPartial  bool
	streamJSON     bool
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Record one session until interrupted",
	Long: `Capture the microphone and stream it to the recognition service.

Recognised sentences are printed as they arrive. On Ctrl+C (SIGINT) or
SIGTERM the capture stops, the service is asked to finish the session and
asrlink waits for its final results (at most transport.stop_timeout).

The session also ends when the service reports done or terminated, or when
the connection cannot be re-established.

Examples:
  asrlink stream --record-id 42 --endpoint wss://asr.example.com/ws
  asrlink stream --record-id 42 --profile roles --json > events.jsonl`,
	RunE: runStream,
}

func init() {
	streamCmd.Flags().StringVar(&streamRecordID, "record-id", "", "record the session belongs to (required)")
	streamCmd.Flags().StringVar(&streamEndpoint, "endpoint", "", "recognition service URL (overrides service.endpoint)")
	streamCmd.Flags().StringVar(&streamProfile, "profile", "", "protocol profile: basic or roles (overrides service.profile)")
	streamCmd.Flags().BoolVar(&streamPartial, "partial", false, "also print sentences that are not final yet")
	streamCmd.Flags().BoolVar(&streamJSON, "json", false, "print one JSON object per event")
	_ = streamCmd.MarkFlagRequired("record-id")
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, _ []string) error {
	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyStreamFlags(cfg); err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level, logCloser := newLogger(cfg.Server)
	defer logCloser.Close()
	slog.SetDefault(logger)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(cmd.Context(), observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Capture backend ───────────────────────────────────────────────────────
	backend, releaseBackend, err := openBackend(cfg.Capture)
	if err != nil {
		return err
	}
	defer releaseBackend()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cmd.ErrOrStderr(), cfg)

	application, err := app.New(ctx, cfg, backend,
		app.WithLevelVar(level),
		app.WithCallbacks(printer(cmd.OutOrStdout())),
	)
	if err != nil {
		return err
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if fromFile {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config, _ config.Diff) {
			if err := applyStreamFlags(new); err != nil {
				slog.Warn("ignoring reloaded config", "err", err)
				return
			}
			application.ApplyConfig(old, new, config.Compare(old, new))
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("recording, press Ctrl+C to finish", "record_id", streamRecordID)
	runErr := application.Run(ctx, streamRecordID)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// applyStreamFlags overrides cfg with the command-line flags so they survive
// configuration reloads.
func applyStreamFlags(cfg *config.Config) error {
	if streamEndpoint != "" {
		cfg.Service.Endpoint = streamEndpoint
	}
	if streamProfile != "" {
		p := protocol.Profile(streamProfile)
		if !p.Valid() {
			return fmt.Errorf("--profile %q is invalid; valid values: basic, roles", streamProfile)
		}
		cfg.Service.Profile = p
	}
	return config.Validate(cfg)
}

// ── Output ────────────────────────────────────────────────────────────────────

// event is the --json output line.
type event struct {
	Time          time.Time          `json:"time"`
	Event         protocol.EventType `json:"event"`
	SessionID     string             `json:"session_id,omitempty"`
	Sentence      *protocol.Sentence `json:"sentence,omitempty"`
	Tips          []string           `json:"tips,omitempty"`
	MedicalRecord map[string]string  `json:"medical_record,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// printer returns callbacks writing session events to w. They run on the
// session's callback goroutine, one at a time.
func printer(w io.Writer) session.Callbacks {
	emit := func(e event) {
		if !streamJSON {
			return
		}
		e.Time = time.Now()
		b, err := json.Marshal(e)
		if err != nil {
			slog.Warn("encode event", "err", err)
			return
		}
		fmt.Fprintln(w, string(b))
	}

	return session.Callbacks{
		OnStarted: func(s *session.Session) {
			emit(event{Event: "started", SessionID: s.ID()})
		},
		OnRecognized: func(s protocol.Sentence) {
			if !s.IsSent && !streamPartial {
				return
			}
			if streamJSON {
				emit(event{Event: protocol.EventRecognized, Sentence: &s})
				return
			}
			fmt.Fprintln(w, formatSentence(s))
		},
		OnTips: func(tips []string) {
			if streamJSON {
				emit(event{Event: protocol.EventTips, Tips: tips})
				return
			}
			for _, tip := range tips {
				fmt.Fprintf(w, "  tip: %s\n", tip)
			}
		},
		OnMedicalRecord: func(fields map[string]string) {
			if streamJSON {
				emit(event{Event: protocol.EventMedicalRecord, MedicalRecord: fields})
				return
			}
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintln(w, "  medical record:")
			for _, k := range keys {
				fmt.Fprintf(w, "    %s: %s\n", k, fields[k])
			}
		},
		OnTerminated: func(reason string) {
			if streamJSON {
				emit(event{Event: protocol.EventTerminated, Reason: reason})
				return
			}
			fmt.Fprintf(w, "session terminated by the service: %s\n", reason)
		},
		OnError: func(err error) {
			emit(event{Event: "error", Error: err.Error()})
		},
		OnEnded: func(s *session.Session) {
			emit(event{Event: "ended", SessionID: s.ID()})
		},
	}
}

// formatSentence renders "[   1.20s →    3.45s] role: text".
func formatSentence(s protocol.Sentence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%7.2fs → %7.2fs] ", s.BeginTime, s.EndTime)
	if s.RoleID != "" {
		b.WriteString(s.RoleID)
		b.WriteString(": ")
	}
	b.WriteString(s.Content)
	if !s.IsSent {
		b.WriteString(" …")
	}
	return b.String()
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        asrlink · startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Endpoint", cfg.Service.Endpoint)
	printRow(w, "Profile", string(cfg.Service.Profile))
	printRow(w, "Backend", cfg.Capture.Backend)
	device := cfg.Capture.Device
	if device == "" {
		device = "(automatic)"
	}
	printRow(w, "Device", device)
	printRow(w, "Reconnects", fmt.Sprintf("%d × %s", cfg.Transport.Attempts(), cfg.Transport.ReconnectInterval))
	if cfg.Storage.PostgresDSN != "" {
		printRow(w, "Transcripts", "postgres")
	} else {
		printRow(w, "Transcripts", "(memory only)")
	}
	if cfg.Capture.DumpWAV != "" {
		printRow(w, "WAV dump", cfg.Capture.DumpWAV)
	}
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", name, value)
}
