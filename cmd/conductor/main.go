package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"conductor/pkg/config"
	"conductor/pkg/contract"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/persistence"
	"conductor/pkg/state"
	"conductor/pkg/validation"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		validateFile = flag.String("validate", "", "Validate a contract file (.json/.yaml) and print the verdict")
		listState    = flag.Bool("list-state", false, "List persisted execution state keys")
		evictOlder   = flag.Duration("evict", 0, "Evict state records older than this duration (e.g. 72h)")
		metricsStage = flag.String("metrics", "", "Show execution and validation rollups for a stage (needs metrics.prometheus_url)")
		setTimeout   = flag.String("set-timeout", "", "Set a per-stage collaborator timeout, e.g. developer=900")
		projectDir   = flag.String("projectdir", ".", "Project directory")
		debug        = flag.Bool("debug", false, "Enable debug logging")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("conductor %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	if *debug {
		logx.SetDebug(true)
	}

	if err := config.LoadConfig(*projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(*validateFile, *listState, *evictOlder, *metricsStage, *setTimeout))
}

func run(validateFile string, listState bool, evictOlder time.Duration, metricsStage, setTimeout string) int {
	logger := logx.NewLogger("conductor")

	switch {
	case validateFile != "":
		return validateContract(validateFile)
	case listState:
		return withStore(logger, listStateKeys)
	case evictOlder > 0:
		return withStore(logger, func(store state.Store) int {
			evicted, err := store.Evict(evictOlder)
			if err != nil {
				logger.Error("evict failed: %v", err)
				return 1
			}
			fmt.Printf("evicted %d state record(s)\n", evicted)
			return 0
		})
	case metricsStage != "":
		return showStageMetrics(metricsStage)
	case setTimeout != "":
		return setStageTimeout(setTimeout)
	default:
		flag.Usage()
		return 2
	}
}

// showStageMetrics prints the Prometheus rollups for one stage: execution
// counts and the verdicts of its outbound hop.
func showStageMetrics(stageName string) int {
	agent, err := contract.ParseAgent(stageName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if cfg.Metrics.PrometheusURL == "" {
		fmt.Fprintln(os.Stderr, "metrics.prometheus_url is not configured")
		return 1
	}

	svc, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx := context.Background()
	completed, failed, err := svc.GetStageMetrics(ctx, agent.String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to query stage metrics: %v\n", err)
		return 1
	}

	next, _ := contract.NextAgent(agent)
	hop := contract.TypeFor(agent, next)
	valid, invalid, err := svc.GetValidationMetrics(ctx, hop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to query validation metrics: %v\n", err)
		return 1
	}

	fmt.Printf("%s:\n", agent)
	fmt.Printf("  executions: %d completed, %d failed\n", completed, failed)
	fmt.Printf("  %s contracts: %d valid, %d invalid\n", hop, valid, invalid)
	return 0
}

// setStageTimeout parses "stage=seconds" and persists the override.
func setStageTimeout(spec string) int {
	name, secsStr, found := strings.Cut(spec, "=")
	if !found {
		fmt.Fprintf(os.Stderr, "invalid timeout spec %q, expected stage=seconds\n", spec)
		return 1
	}
	agent, err := contract.ParseAgent(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	secs, err := strconv.Atoi(strings.TrimSpace(secsStr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid timeout value %q: %v\n", secsStr, err)
		return 1
	}
	if err := config.UpdateStageTimeout(agent, secs); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Printf("%s timeout set to %ds\n", agent, secs)
	return 0
}

func validateContract(path string) int {
	doc, err := contract.LoadDocument(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	cfg, _ := config.GetConfig()
	engine := validation.NewEngine(validation.WithRecorder(metrics.NewRecorder(cfg.Metrics.Exporter)))
	result := engine.Validate(doc)

	for _, warn := range result.Warnings {
		fmt.Printf("warning: %s\n", warn)
	}
	if result.IsValid {
		fmt.Printf("✅ %s is valid\n", path)
		return 0
	}

	fmt.Printf("❌ %s failed validation with %d error(s):\n", path, len(result.Errors))
	for _, kind := range []validation.IssueKind{validation.KindSchema, validation.KindBusinessRule, validation.KindCompliance} {
		for _, issue := range result.ErrorsOfKind(kind) {
			fmt.Printf("  - %s\n", issue)
		}
	}
	return 1
}

func withStore(logger *logx.Logger, fn func(state.Store) int) int {
	store, cleanup, err := openStore()
	if err != nil {
		logger.Error("failed to open state store: %v", err)
		return 1
	}
	defer cleanup()
	return fn(store)
}

func listStateKeys(store state.Store) int {
	keys, err := store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if len(keys) == 0 {
		fmt.Println("no persisted execution state")
		return 0
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return 0
}

// openStore builds the configured state store backend.
func openStore() (state.Store, func(), error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, nil, err
	}

	recorder := metrics.NewRecorder(cfg.Metrics.Exporter)

	if cfg.StateBackend == config.BackendSQLite {
		store, err := persistence.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		store.SetRecorder(recorder)
		return store, func() { _ = store.Close() }, nil
	}

	store, err := state.NewFileStore(cfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	store.SetRecorder(recorder)
	return store, func() {}, nil
}
