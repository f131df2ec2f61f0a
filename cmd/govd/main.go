package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"governor/internal/bus"
	"governor/internal/config"
	"governor/internal/db"
	"governor/internal/domain"
	"governor/internal/events"
	"governor/internal/governor"
	"governor/internal/hook"
	"governor/internal/kv"
	"governor/internal/migrate"
	"governor/internal/override"
	"governor/internal/phase"
	"governor/internal/server"
	"governor/internal/touchpoint"
)

var rootCmd = &cobra.Command{
	Use:   "govd",
	Short: "Fleet governor daemon",
	Long: `govd keeps a fleet of coding agents moving through tracked issues.
It scans configured projects on a timer, reacts to tracker events, decides
the next workflow action per issue, and dispatches it — while honoring
human override directives (HOLD, RESUME, SKIP-QA, DECOMPOSE, REASSIGN,
PRIORITY) left as issue comments.

The issue tracker and the agent runner are external: point
integration.tracker_cmd and integration.dispatch_cmd in governor.yml at
commands that speak the hook JSON protocol.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GOVERNOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-operator", "actor identifier for audit rows")
	rootCmd.PersistentFlags().Bool("debug", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(overrideCmd())
	rootCmd.AddCommand(touchpointsCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

// stores bundles everything a command can need against the workspace db.
type stores struct {
	Conn        *sql.DB
	Cfg         *config.Config
	KV          kv.Store
	Overrides   *override.Store
	Phases      *phase.Store
	Touchpoints *touchpoint.Store
	Audit       *events.Writer
}

func withStores(ctx context.Context, fn func(context.Context, *stores) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	backend := kv.NewSQLite(conn)
	s := &stores{
		Conn:        conn,
		Cfg:         cfg,
		KV:          backend,
		Overrides:   override.NewStore(backend, cfg.Override.HoldTTL.Duration),
		Phases:      phase.NewStore(backend),
		Touchpoints: touchpoint.NewStore(conn),
		Audit:       &events.Writer{DB: conn},
	}
	return fn(ctx, s)
}

func buildDeps(s *stores) (governor.Deps, error) {
	if s.Cfg.Integration.TrackerCmd == "" {
		return governor.Deps{}, fmt.Errorf("integration.tracker_cmd not configured")
	}
	if s.Cfg.Integration.DispatchCmd == "" {
		return governor.Deps{}, fmt.Errorf("integration.dispatch_cmd not configured")
	}
	return governor.Deps{
		Tracker:    hook.Tracker{Cmd: s.Cfg.Integration.TrackerCmd},
		Dispatcher: hook.Dispatcher{Cmd: s.Cfg.Integration.DispatchCmd},
		Overrides:  s.Overrides,
		Phases:     s.Phases,
	}, nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if viper.GetBool("debug") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

func runCmd() *cobra.Command {
	var addr, basePath string
	var pollOnly, eventOnly bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the governors until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withStores(ctx, func(ctx context.Context, s *stores) error {
				deps, err := buildDeps(s)
				if err != nil {
					return err
				}
				log := newLogger()

				var poll *governor.Poll
				if !eventOnly {
					poll = governor.NewPoll(s.Cfg, deps, log.With().Str("governor", "poll").Logger(), s.Audit)
					poll.Start()
					defer poll.Stop()
				}

				var event *governor.Event
				if !pollOnly {
					queue := bus.NewSQLite(s.Conn)
					dedup := bus.NewKVDeduplicator(s.KV, s.Cfg.Events.DedupWindow.Duration)
					event = governor.NewEvent(s.Cfg, deps, queue, dedup, s.Overrides, s.Touchpoints,
						log.With().Str("governor", "event").Logger(), s.Audit)
					if err := event.Start(); err != nil {
						return err
					}
					defer event.Stop()
				}

				var srv *http.Server
				if addr != "" {
					if os.Getenv("GOVERNOR_JWT_SECRET") == "" {
						return fmt.Errorf("GOVERNOR_JWT_SECRET is required when serving the ops API")
					}
					handler, err := server.New(server.Config{
						Cfg:         s.Cfg,
						Poll:        poll,
						Event:       event,
						Overrides:   s.Overrides,
						Touchpoints: s.Touchpoints,
						Audit:       s.Audit,
						BasePath:    basePath,
						Auth:        server.AuthConfig{JWTSecret: os.Getenv("GOVERNOR_JWT_SECRET"), Logger: log},
					})
					if err != nil {
						return err
					}
					srv = &http.Server{Addr: addr, Handler: handler}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							log.Error().Err(err).Msg("ops api server failed")
						}
					}()
					log.Info().Str("addr", addr).Str("base_path", basePath).Msg("ops api listening")
				}

				log.Info().Strs("projects", s.Cfg.Projects).Msg("governor running")
				<-ctx.Done()
				log.Info().Msg("shutting down")
				if srv != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "also serve the ops API on this address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "ops API base path")
	cmd.Flags().BoolVar(&pollOnly, "poll-only", false, "run only the poll governor")
	cmd.Flags().BoolVar(&eventOnly, "event-only", false, "run only the event governor")
	return cmd
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan pass across configured projects and report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, s *stores) error {
				deps, err := buildDeps(s)
				if err != nil {
					return err
				}
				poll := governor.NewPoll(s.Cfg, deps, newLogger(), s.Audit)
				results := poll.ScanOnce(ctx)
				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Project", "Scanned", "Dispatched", "Skip reasons", "Errors"})
				for _, r := range results {
					reasons := make([]string, 0, len(r.SkippedReasons))
					for reason := range r.SkippedReasons {
						reasons = append(reasons, reason)
					}
					sort.Strings(reasons)
					tw.AppendRow(table.Row{
						r.Project,
						r.ScannedIssues,
						r.ActionsDispatched,
						strings.Join(reasons, "; "),
						len(r.Errors),
					})
				}
				tw.Render()
				for _, r := range results {
					for _, e := range r.Errors {
						fmt.Printf("  %s/%s: %s\n", r.Project, e.IssueID, e.Error)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func overrideCmd() *cobra.Command {
	ov := &cobra.Command{
		Use:   "override",
		Short: "Manage override directives",
		Long:  "Overrides are the manual brake and steering wheel: hold pauses all automation for an issue, skip-qa / decompose / reassign / priority adjust the next decision. Clearing an override is the RESUME equivalent.",
	}
	ov.AddCommand(overrideSetCmd())
	ov.AddCommand(overrideClearCmd())
	ov.AddCommand(overrideShowCmd())
	return ov
}

func overrideSetCmd() *cobra.Command {
	var dtype, reason, priority string
	cmd := &cobra.Command{
		Use:   "set <issue-id>",
		Short: "Apply an override directive to an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID := args[0]
			return withStores(cmd.Context(), func(ctx context.Context, s *stores) error {
				directive := domain.OverrideDirective{
					Type:      domain.DirectiveType(strings.ToLower(dtype)),
					Reason:    reason,
					Priority:  domain.OverridePriority(priority),
					UserID:    viper.GetString("actor-id"),
					Timestamp: time.Now(),
				}
				if err := s.Overrides.Set(ctx, issueID, directive); err != nil {
					return err
				}
				_ = s.Audit.Append(ctx, "override.set", "", issueID, directive.UserID, events.EventPayload{
					"directive": directive.Type,
					"source":    "cli",
				})
				state, err := s.Overrides.Get(ctx, issueID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(state)
			})
		},
	}
	cmd.Flags().StringVar(&dtype, "type", "", "directive type (hold, skip-qa, decompose, reassign, priority)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason text")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (high, medium, low)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func overrideClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <issue-id>",
		Short: "Clear the active override (RESUME)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID := args[0]
			return withStores(cmd.Context(), func(ctx context.Context, s *stores) error {
				if err := s.Overrides.Clear(ctx, issueID); err != nil {
					return err
				}
				_ = s.Audit.Append(ctx, "override.cleared", "", issueID, viper.GetString("actor-id"), events.EventPayload{
					"source": "cli",
				})
				fmt.Println("override cleared")
				return nil
			})
		},
	}
	return cmd
}

func overrideShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show the active override, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID := args[0]
			return withStores(cmd.Context(), func(ctx context.Context, s *stores) error {
				state, err := s.Overrides.Get(ctx, issueID)
				if err != nil {
					return err
				}
				if state == nil {
					fmt.Println("no active override")
					return nil
				}
				return printJSONOrIndent(state)
			})
		},
	}
	return cmd
}

func touchpointsCmd() *cobra.Command {
	tp := &cobra.Command{
		Use:   "touchpoints",
		Short: "Inspect human touchpoints",
	}
	tp.AddCommand(touchpointsListCmd())
	tp.AddCommand(touchpointsPostCmd())
	return tp
}

func touchpointsPostCmd() *cobra.Command {
	var tpType, identifier, summary, strategy, blocker string
	var cycles int
	var cost float64
	cmd := &cobra.Command{
		Use:   "post <issue-id>",
		Short: "Post a touchpoint notification for an issue",
		Long:  "The escalation ladder that counts failure cycles runs outside the governor; it calls this to put a review request, decomposition proposal, or escalation alert on record. Any later override directive on the issue marks it responded.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID := args[0]
			return withStores(cmd.Context(), func(ctx context.Context, s *stores) error {
				ident := identifier
				if ident == "" {
					ident = issueID
				}
				n, err := touchpoint.Render(domain.TouchpointType(strings.ToLower(tpType)), touchpoint.Params{
					IssueIdentifier:   ident,
					CycleCount:        cycles,
					FailureSummary:    summary,
					Strategy:          strategy,
					TotalCostUSD:      cost,
					BlockerIdentifier: blocker,
				}, touchpoint.TimeoutsFromConfig(s.Cfg))
				if err != nil {
					return err
				}
				saved, err := s.Touchpoints.Record(ctx, issueID, n)
				if err != nil {
					return err
				}
				_ = s.Audit.Append(ctx, "touchpoint.posted", "", issueID, viper.GetString("actor-id"), events.EventPayload{
					"type":   saved.Type,
					"source": "cli",
				})
				return printJSONOrIndent(saved)
			})
		},
	}
	cmd.Flags().StringVar(&tpType, "type", "", "touchpoint type (review-request, decomposition-proposal, escalation-alert)")
	cmd.Flags().StringVar(&identifier, "identifier", "", "human-facing issue identifier (defaults to the issue id)")
	cmd.Flags().IntVar(&cycles, "cycles", 0, "failure cycle count")
	cmd.Flags().StringVar(&summary, "summary", "", "latest failure summary")
	cmd.Flags().StringVar(&strategy, "strategy", "", "current workflow strategy")
	cmd.Flags().Float64Var(&cost, "cost", 0, "total agent cost in USD")
	cmd.Flags().StringVar(&blocker, "blocker", "", "blocking issue identifier")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func touchpointsListCmd() *cobra.Command {
	var issueID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List touchpoint notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, s *stores) error {
				var items []domain.TouchpointNotification
				var err error
				if issueID != "" {
					items, err = s.Touchpoints.ListByIssue(ctx, issueID)
				} else {
					items, err = s.Touchpoints.ListOpen(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Issue", "Posted", "Responded"})
				for _, n := range items {
					responded := ""
					if n.RespondedAt != nil {
						responded = n.RespondedAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{n.ID, n.Type, n.IssueID, n.PostedAt.Format(time.RFC3339), responded})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&issueID, "issue", "", "filter by issue id (shows responded ones too)")
	return cmd
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{
		Use:   "event",
		Short: "Feed the durable event queue",
	}
	ev.AddCommand(eventPublishCmd())
	return ev
}

func eventPublishCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a governor event (JSON from --file or stdin)",
		Long:  "Webhook receivers and other producers hand events to a running governor through the durable queue. The payload is a single GovernorEvent JSON document.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if filePath != "" {
				data, err = os.ReadFile(filePath)
			} else {
				data, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}
			var event domain.GovernorEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("invalid event json: %w", err)
			}
			if event.Type == "" {
				return fmt.Errorf("event type is required")
			}
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now()
			}
			return withStores(cmd.Context(), func(ctx context.Context, s *stores) error {
				queue := bus.NewSQLite(s.Conn)
				if err := queue.Publish(event); err != nil {
					return err
				}
				fmt.Printf("published %s for %s\n", event.Type, event.IssueID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to event JSON (default stdin)")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "The diary of everything the governor decided: dispatches, overrides, scans.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, issueID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, s *stores) error {
				items, err := s.Audit.Latest(ctx, n, evtType, issueID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&issueID, "issue", "", "issue id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ops API over the workspace stores (no governors)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), func(ctx context.Context, s *stores) error {
				log := newLogger()
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("GOVERNOR_JWT_SECRET"), Logger: log}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("GOVERNOR_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Cfg:         s.Cfg,
					Overrides:   s.Overrides,
					Touchpoints: s.Touchpoints,
					Audit:       s.Audit,
					BasePath:    basePath,
					Auth:        authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving governor ops API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect governor config",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default governor.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(project)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "my-project", "initial project id")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrIndent(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate governor.yml (or another file via --file)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "validate this file instead of the workspace governor.yml")
	return cmd
}

// --- helpers ---

func printJSONOrIndent(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
