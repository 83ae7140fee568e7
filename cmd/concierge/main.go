package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zen-systems/concierge/pkg/adapter"
	"github.com/zen-systems/concierge/pkg/config"
	"github.com/zen-systems/concierge/pkg/engine"
	"github.com/zen-systems/concierge/pkg/gateway"
	"github.com/zen-systems/concierge/pkg/kb"
	"github.com/zen-systems/concierge/pkg/router"
	"github.com/zen-systems/concierge/pkg/tool"
	"github.com/zen-systems/concierge/pkg/trace"
)

// signingKeyID names the CLI's run record signing key.
const signingKeyID = "concierge-cli"

var version = "dev"

var (
	configFile  string
	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "concierge",
		Short: "Workplace assistant with intent routing and specialist handlers",
		Long: `Concierge answers workplace questions about leave, benefits, payroll
	and IT support. Each question is classified by intent, checked against
	the caller's role permissions and dispatched to a specialist handler
	that gathers evidence with internal tools before composing an answer.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to assistant config file")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log progress to stderr")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(intentsCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(backendsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var userFlag string
	var roleFlag string
	var deptFlag string
	var intentFlag string
	var maxIterFlag int
	var traceDirFlag string
	var jsonFlag bool
	var statsFlag bool
	var mockFlag bool
	var noAuditFlag bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the assistant a workplace question",
		Long: `Classifies the question, checks the caller's role against the intent
	permissions and dispatches one specialist handler per allowed intent.
	Questions that carry more than one intent fan out concurrently and the
	answers are merged.

	Use --intent to skip classification and route to a named intent; the
	permission check still applies. Use --mock to route every model call to
	the built-in mock backend and run without API keys. Finished runs are
	recorded as signed JSON under the config directory unless --no-audit
	is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if mockFlag {
				useMockBackend(cfg.Assistant)
			}
			if maxIterFlag > 0 {
				cfg.Assistant.Engine.MaxIterations = maxIterFlag
			}

			backends, err := createBackends(cfg)
			if err != nil {
				return fmt.Errorf("failed to create backends: %w", err)
			}

			gw, err := newGateway(cfg, backends, logger)
			if err != nil {
				return err
			}

			var recorder trace.Recorder = trace.NopRecorder{}
			if !noAuditFlag {
				recorder = newRecorder(cfg, traceDirFlag, logger)
			}

			r := buildRouter(cfg, gw, recorder, logger)

			req := router.Request{
				Query: args[0],
				User:  tool.User{ID: userFlag, Role: roleFlag, Department: deptFlag},
			}

			var resp *router.Response
			if intentFlag != "" {
				resp, err = dispatchDirect(r, cfg.Assistant, intentFlag, req)
			} else {
				resp, err = r.Ask(context.Background(), req)
			}
			if err != nil {
				if router.IsPermissionDenied(err) {
					fmt.Println(err.Error())
					return nil
				}
				return err
			}

			if jsonFlag {
				data, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			} else {
				printResponse(resp)
			}

			if statsFlag {
				printStats(gw.GetStats())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "emp-1001", "employee id making the request")
	cmd.Flags().StringVar(&roleFlag, "role", "employee", "requester role (employee, manager, contractor, admin)")
	cmd.Flags().StringVar(&deptFlag, "dept", "", "requester department")
	cmd.Flags().StringVar(&intentFlag, "intent", "", "skip classification and dispatch this intent")
	cmd.Flags().IntVar(&maxIterFlag, "max-iterations", 0, "override the handler iteration ceiling")
	cmd.Flags().StringVar(&traceDirFlag, "trace-dir", "", "directory for run records (defaults to the config directory)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full response as JSON")
	cmd.Flags().BoolVar(&statsFlag, "stats", false, "print gateway statistics after the run")
	cmd.Flags().BoolVar(&mockFlag, "mock", false, "route every model call to the mock backend")
	cmd.Flags().BoolVar(&noAuditFlag, "no-audit", false, "skip writing the signed run record")

	return cmd
}

// dispatchDirect routes the question to one named intent without
// classification. The caller's permissions still apply.
func dispatchDirect(r *router.Router, a *config.AssistantConfig, label string, req router.Request) (*router.Response, error) {
	if _, ok := a.Router.Intents[label]; !ok {
		return nil, fmt.Errorf("unknown intent %q", label)
	}
	if !router.CheckPermission(a.Router.Permissions, req.User.Role, label) {
		return nil, &router.PermissionDeniedError{Intent: label}
	}

	started := time.Now()
	hr, err := r.Dispatch(context.Background(), router.Intent{Label: label, Confidence: 1}, req)
	if err != nil {
		return nil, err
	}
	resp := r.MergeResponses([]router.HandlerResult{*hr})
	resp.Elapsed = time.Since(started)
	return resp, nil
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [question]",
		Short: "Show how a question would be classified",
		Long: `Runs intent classification without dispatching any handler. Keyword
	matches are deterministic; questions with no keyword hit fall back to
	the classification model when one is configured.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			backends, err := createBackends(cfg)
			if err != nil {
				return fmt.Errorf("failed to create backends: %w", err)
			}

			gw, err := newGateway(cfg, backends, logger)
			if err != nil {
				return err
			}

			cls := router.NewClassifier(&cfg.Assistant.Router, gw, logger).
				ClassifyIntent(context.Background(), args[0])

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INTENT\tCONFIDENCE\tMATCHED")
			for _, intent := range cls.Intents {
				fmt.Fprintf(w, "%s\t%.2f\t%s\n", intent.Label, intent.Confidence, strings.Join(intent.Keywords, ", "))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			for _, reason := range cls.Reasons {
				fmt.Fprintf(os.Stderr, "%s\n", reason)
			}
			return nil
		},
	}
}

func intentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "Show configured intents and role permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INTENT\tSPECIALIST\tROLES\tKEYWORDS")

			for _, label := range cfg.Assistant.IntentLabels() {
				ic := cfg.Assistant.Router.Intents[label]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", label, ic.Specialist,
					strings.Join(rolesFor(cfg.Assistant.Router.Permissions, label), ", "),
					strings.Join(ic.Keywords, ", "))
			}

			return w.Flush()
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to specialist handlers",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := buildToolRegistry(zerolog.Nop())

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tDESCRIPTION")
			for _, t := range reg.Tools() {
				fmt.Fprintf(w, "%s\t%s\n", t.ID(), t.Description())
			}
			return w.Flush()
		},
	}
}

func backendsCmd() *cobra.Command {
	var resolveFlag bool

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List model backends, their models and key status",
		Long: `Lists the backends with the models the assistant routes to them.

	Use --resolve to show model aliases and what they resolve to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases(cfg.Assistant)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tMODELS\tSTATUS")

			for _, name := range []string{"anthropic", "openai", "google", "deepseek", "mock"} {
				status := "no key"
				if cfg.HasBackend(name) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, strings.Join(modelsFor(cfg.Assistant, name), ", "), status)
			}

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")

	return cmd
}

func showAliases(a *config.AssistantConfig) error {
	if len(a.Aliases) == 0 {
		fmt.Println("No model aliases configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL")

	var names []string
	for name := range a.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, a.Aliases[name])
	}

	return w.Flush()
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [assistant.yaml]",
		Short: "Validate an assistant config file",
		Long:  "Checks intent tables, permissions and model targets without running anything.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAssistantConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Config is valid: %d intents, %d roles, %d model categories.\n",
				len(cfg.Router.Intents), len(cfg.Router.Permissions), len(cfg.Models))
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	var dayFlag string
	var idFlag string
	var dirFlag string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the signature on a recorded run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dayFlag == "" || idFlag == "" {
				return fmt.Errorf("--day and --id are required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			baseDir := dirFlag
			if baseDir == "" {
				baseDir = filepath.Join(cfg.ConfigDir, "runs")
			}

			writer, err := trace.NewWriter(baseDir)
			if err != nil {
				return err
			}
			rec, err := writer.Read(dayFlag, idFlag)
			if err != nil {
				return err
			}

			signer, err := trace.NewSigner(filepath.Join(cfg.ConfigDir, "keys"), signingKeyID)
			if err != nil {
				return err
			}
			if err := signer.Verify(*rec); err != nil {
				return err
			}

			fmt.Println("Run record verified.")
			return nil
		},
	}

	cmd.Flags().StringVar(&dayFlag, "day", "", "record day in YYYY-MM-DD form")
	cmd.Flags().StringVar(&idFlag, "id", "", "run record id")
	cmd.Flags().StringVar(&dirFlag, "dir", "", "run record directory (defaults to the config directory)")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the concierge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// newLogger builds the CLI logger. Silent unless --verbose is set.
func newLogger() zerolog.Logger {
	if !verboseFlag {
		return zerolog.Nop()
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(out).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithAssistantFile(configFile)
	}
	return config.Load()
}

// useMockBackend points every model category at the mock backend so the
// assistant runs without API keys.
func useMockBackend(a *config.AssistantConfig) {
	for category, mc := range a.Models {
		mc.Backend = "mock"
		mc.Model = "mock-1"
		a.Models[category] = mc
	}
	a.Default.Backend = "mock"
	a.Default.Model = "mock-1"
}

func createBackends(cfg *config.Config) (map[string]adapter.Adapter, error) {
	backends := make(map[string]adapter.Adapter)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic backend: %w", err)
		}
		backends["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai backend: %w", err)
		}
		backends["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google backend: %w", err)
		}
		backends["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek backend: %w", err)
		}
		backends["deepseek"] = a
	}

	backends["mock"] = adapter.NewMockAdapter()

	return backends, nil
}

// newGateway wires the gateway with the configured cache.
func newGateway(cfg *config.Config, backends map[string]adapter.Adapter, logger zerolog.Logger) (*gateway.Gateway, error) {
	opts := []gateway.Option{gateway.WithLogger(logger)}
	if cfg.Assistant.Gateway.DiskCache {
		cache, err := gateway.NewDiskCache(filepath.Join(cfg.ConfigDir, "cache"))
		if err != nil {
			return nil, fmt.Errorf("failed to open disk cache: %w", err)
		}
		opts = append(opts, gateway.WithCache(cache))
	}
	return gateway.New(cfg.Assistant, backends, opts...), nil
}

// buildToolRegistry assembles the tool set every specialist draws from.
func buildToolRegistry(logger zerolog.Logger) *tool.Registry {
	store := kb.NewDefaultStore(logger)
	records := tool.SampleHRRecords()

	return tool.NewRegistry(
		tool.NewSearchTool(store, tool.DefaultTopicCollections()),
		tool.NewPolicyTool(tool.DefaultPolicies()),
		tool.NewLeaveBalanceTool(records),
		tool.NewCoverageTool(records),
		tool.NewTicketTool(tool.NewTicketStore()),
	)
}

// buildRouter wires classification, specialists, scope filtering and run
// recording into one router. Contractors never see record-backed sources.
func buildRouter(cfg *config.Config, gw *gateway.Gateway, recorder trace.Recorder, logger zerolog.Logger) *router.Router {
	reg := buildToolRegistry(logger)

	decorators := make(map[string][]engine.AnswerDecorator)
	for _, label := range cfg.Assistant.IntentLabels() {
		decorators[label] = []engine.AnswerDecorator{engine.LowConfidenceDecorator{}}
	}

	factory := router.NewSpecialistFactory(cfg.Assistant, reg, gw, logger, decorators)

	scope := router.SourcePrefixScope{
		Hidden: map[string][]string{"contractor": {"records:"}},
	}

	return router.New(cfg.Assistant, gw, factory,
		router.WithLogger(logger),
		router.WithScopeFilter(scope),
		router.WithRecorder(recorder),
	)
}

// newRecorder builds the signed run record writer. Recording trouble
// downgrades to a warning and never blocks an answer.
func newRecorder(cfg *config.Config, baseDir string, logger zerolog.Logger) trace.Recorder {
	if baseDir == "" {
		baseDir = filepath.Join(cfg.ConfigDir, "runs")
	}

	signer, err := trace.NewSigner(filepath.Join(cfg.ConfigDir, "keys"), signingKeyID)
	if err != nil {
		logger.Warn().Err(err).Msg("run signing unavailable")
		signer = nil
	}

	var opts []trace.WriterOption
	if signer != nil {
		opts = append(opts, trace.WithSigner(signer))
	}

	writer, err := trace.NewWriter(baseDir, opts...)
	if err != nil {
		logger.Warn().Err(err).Msg("run recording unavailable")
		return trace.NopRecorder{}
	}
	return writer
}

func printResponse(resp *router.Response) {
	fmt.Println(resp.Answer)

	if len(resp.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range resp.Sources {
			fmt.Printf("  - %s\n", src)
		}
	}
	if resp.Clarification {
		return
	}
	fmt.Fprintf(os.Stderr, "\nintents: %s  confidence: %.2f  elapsed: %s\n",
		strings.Join(resp.Intents, ", "), resp.Confidence, resp.Elapsed.Round(time.Millisecond))
}

func printStats(stats gateway.Stats) {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "BACKEND\tCALLS\tERRORS\tCOST USD\tAVG LATENCY MS")

	var names []string
	for name := range stats.Backends {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		bs := stats.Backends[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\t%d\n", name, bs.Calls, bs.Errors, bs.CostUSD, bs.AvgLatencyMs)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "cache hits\t%d\n", stats.CacheHits)
	fmt.Fprintf(w, "cache misses\t%d\n", stats.CacheMisses)
	fmt.Fprintf(w, "retries\t%d\n", stats.Retries)
	fmt.Fprintf(w, "breaker rejections\t%d\n", stats.BreakerRejections)
	fmt.Fprintf(w, "total tokens\t%d\n", stats.TotalUsage.TotalTokens)

	for _, br := range stats.Breakers {
		fmt.Fprintf(w, "breaker %s\t%s\n", br.Backend, br.State)
	}

	w.Flush()
}

// rolesFor lists the roles allowed to reach an intent.
func rolesFor(perms map[string][]string, label string) []string {
	var roles []string
	for role := range perms {
		if router.CheckPermission(perms, role, label) {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)
	return roles
}

// modelsFor lists the distinct models the assistant routes to a backend.
func modelsFor(a *config.AssistantConfig, backend string) []string {
	seen := make(map[string]bool)
	var models []string

	add := func(mc config.ModelConfig) {
		if mc.Backend != backend || mc.Model == "" {
			return
		}
		model := a.Resolve(mc.Model)
		if !seen[model] {
			seen[model] = true
			models = append(models, model)
		}
	}

	for _, mc := range a.Models {
		add(mc)
	}
	add(a.Default)

	sort.Strings(models)
	return models
}
