package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/systemstart/many-flows/pkg/actions"
	"github.com/systemstart/many-flows/pkg/api"
	"github.com/systemstart/many-flows/pkg/compose"
	"github.com/systemstart/many-flows/pkg/config"
	"github.com/systemstart/many-flows/pkg/logging"
	"github.com/systemstart/many-flows/pkg/metrics"
	"github.com/systemstart/many-flows/pkg/placeholder"
	"github.com/systemstart/many-flows/pkg/processing"
	"github.com/systemstart/many-flows/pkg/report"
)

var version = "dev"

const (
	_ = iota
	exitLoggingSetupFailed
	exitLoadConfigurationFailed
	exitLibraryNotSpecified
	exitLoadLibraryFailed
	exitCommonDirectoryCheckFailed
	exitLoadVariablesFailed
	exitUnknownExpressionLanguage
	exitLoadFlowsFailed
	exitNoFlows
	exitReportsSetupFailed
	exitFlowsFailed
	exitWriteResultsFailed
)

var (
	libraryDirectory string
	flowSelector     string
	casesDirectory   string
	commonDirectory  string
	configDirectory  string
	environment      string
	variablesFile    string
	tags             string
	parallel         int
	seed             uint64
	strict           bool
	expression       string
	requestTimeout   time.Duration
	requestRate      float64
	requestBurst     int
	reportsDirectory string
	overwriteReports bool
	metricsFile      string
	loggingType      string
	logLevel         string
	showVersion      bool
)

func init() {
	flag.StringVar(
		&libraryDirectory,
		"library",
		"",
		"directory holding *.steps.yaml step definitions")
	flag.StringVar(
		&flowSelector,
		"flow",
		"",
		"single .flow.yaml file or flow id to run (default: every discovered flow)")
	flag.StringVar(
		&casesDirectory,
		"cases",
		".",
		"directory searched recursively for *.flow.yaml")
	flag.StringVar(
		&commonDirectory,
		"common",
		"",
		"shared parameter part directory (default: <library>/../common)")
	flag.StringVar(
		&configDirectory,
		"config-dir",
		"config",
		"directory holding default.yaml and <environment>.yaml")
	flag.StringVar(
		&environment,
		"environment",
		"",
		"configuration environment (default: FLOWS_ENVIRONMENT or development)")
	flag.StringVar(
		&variablesFile,
		"vars",
		"",
		"YAML file with initial flow variables")
	flag.StringVar(
		&tags,
		"tags",
		"",
		"comma separated tags; only flows carrying one of them run")
	flag.IntVar(
		&parallel,
		"parallel",
		1,
		"number of flows run concurrently")
	flag.Uint64Var(
		&seed,
		"seed",
		0,
		"fake data seed (0 = random per flow)")
	flag.BoolVar(
		&strict,
		"strict",
		false,
		"reject unknown $generate directives instead of passing them through")
	flag.StringVar(
		&expression,
		"expression",
		"",
		"conditional expression language: template or lua (default: config expression_language)")
	flag.DurationVar(
		&requestTimeout,
		"timeout",
		30*time.Second,
		"HTTP request timeout")
	flag.Float64Var(
		&requestRate,
		"rate",
		0,
		"maximum HTTP requests per second across all flows (0 = unlimited)")
	flag.IntVar(
		&requestBurst,
		"burst",
		1,
		"HTTP requests allowed above -rate in a burst")
	flag.StringVar(
		&reportsDirectory,
		"reports",
		"",
		"directory for attachments and summary.yaml")
	flag.BoolVar(
		&overwriteReports,
		"overwrite-reports",
		false,
		"delete and recreate the reports directory")
	flag.StringVar(
		&metricsFile,
		"metrics-file",
		"",
		"write Prometheus metrics to this textfile")
	flag.StringVar(
		&loggingType,
		"logging-type",
		"tint",
		"logging type: json, text or tint")
	flag.StringVar(
		&logLevel,
		"log-level",
		"info",
		"logging level: debug, info, warn, error")
	flag.BoolVar(
		&showVersion,
		"version",
		false,
		"print version and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := logging.Initialize(loggingType, logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitLoggingSetupFailed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfiguration()
	library := loadLibrary()
	runner := newRunner(cfg, library)

	var store *report.Store
	if reportsDirectory != "" {
		store = openReports()
		runner.Recorder = store
	}
	collector := metrics.New()
	runner.Observer = collector

	flows := selectFlows(runner)
	results, runErr := runner.RunAll(ctx, flows, parallel)

	writeResults(store, collector, cfg, results)

	if runErr != nil {
		slog.Error("processing failed", "error", runErr)
		stop()
		os.Exit(exitFlowsFailed)
	}
	slog.Info("done", "flows", len(results))
}

func loadConfiguration() *config.RunConfiguration {
	config.SetLoader(func() (*config.RunConfiguration, error) {
		return config.Load(config.Options{Dir: configDirectory, Environment: environment})
	})

	cfg, err := config.Current()
	if err != nil {
		slog.Error("failed to load configuration", "directory", configDirectory, "error", err)
		os.Exit(exitLoadConfigurationFailed)
	}
	slog.Info("configuration loaded", "environment", cfg.EnvironmentName, "baseEndpoint", cfg.BaseEndpoint)
	return cfg
}

func loadLibrary() *api.Library {
	if libraryDirectory == "" {
		slog.Error("-library not set")
		os.Exit(exitLibraryNotSpecified)
	}

	library, err := api.LoadLibrary(libraryDirectory)
	if err != nil {
		slog.Error("failed to load step library", "directory", libraryDirectory, "error", err)
		os.Exit(exitLoadLibraryFailed)
	}
	return library
}

func newRunner(cfg *config.RunConfiguration, library *api.Library) *processing.Runner {
	common := commonDirectory
	if common == "" {
		common = filepath.Join(filepath.Dir(filepath.Clean(libraryDirectory)), "common")
	}
	if st, err := os.Stat(common); err != nil || !st.IsDir() {
		slog.Error("common directory is not usable", "directory", common, "error", err)
		os.Exit(exitCommonDirectoryCheckFailed)
	}

	language := expression
	if language == "" {
		language = cfg.GetString(config.KeyExpressionLanguage, placeholder.ExpressionTemplate)
	}
	evaluator, err := placeholder.NewEvaluator(language)
	if err != nil {
		slog.Error("unsupported expression language", "language", language, "error", err)
		os.Exit(exitUnknownExpressionLanguage)
	}

	var variables map[string]any
	if variablesFile != "" {
		variables, err = processing.LoadVariablesFile(variablesFile)
		if err != nil {
			slog.Error("failed to load variables file", "filename", variablesFile, "error", err)
			os.Exit(exitLoadVariablesFailed)
		}
	}

	return &processing.Runner{
		Library:   library,
		Registry:  actions.DefaultRegistry(),
		Composer:  compose.New(common),
		Config:    cfg,
		Evaluator: evaluator,
		Factory: actions.NewHTTPFactory(actions.HTTPOptions{
			Timeout:           requestTimeout,
			RequestsPerSecond: requestRate,
			Burst:             requestBurst,
		}),
		Seed:      seed,
		Strict:    strict,
		Variables: variables,
	}
}

func openReports() *report.Store {
	store, err := report.Open(reportsDirectory, overwriteReports)
	if err != nil {
		slog.Error("failed to prepare reports directory", "directory", reportsDirectory, "error", err)
		os.Exit(exitReportsSetupFailed)
	}
	slog.Info("writing reports", "directory", store.Dir(), "run", store.RunID)
	return store
}

// selectFlows resolves -flow as a file, then as a flow id; without -flow
// every flow below -cases is selected.
func selectFlows(runner *processing.Runner) []*api.Flow {
	filter := processing.Filter{Tags: splitList(tags)}

	if flowSelector != "" {
		if st, err := os.Stat(flowSelector); err == nil && !st.IsDir() {
			flow, err := api.LoadFlow(flowSelector)
			if err == nil {
				err = flow.ValidateAgainst(runner.Library, runner.Registry.Has)
			}
			if err != nil {
				slog.Error("failed to load flow", "filename", flowSelector, "error", err)
				os.Exit(exitLoadFlowsFailed)
			}
			return []*api.Flow{flow}
		}
		filter.IDs = []string{flowSelector}
	}

	flows, err := runner.DiscoverFlows(casesDirectory, filter)
	if err != nil {
		slog.Error("failed to discover flows", "directory", casesDirectory, "error", err)
		os.Exit(exitLoadFlowsFailed)
	}
	if len(flows) == 0 {
		slog.Error("no flows selected", "directory", casesDirectory, "flow", flowSelector, "tags", tags)
		os.Exit(exitNoFlows)
	}
	return flows
}

func writeResults(store *report.Store, collector *metrics.Collector, cfg *config.RunConfiguration, results []*processing.Result) {
	var errs []error

	if store != nil {
		path, err := store.WriteSummary(report.Summarize(store.RunID, cfg.EnvironmentName, results))
		if err != nil {
			errs = append(errs, err)
		} else {
			slog.Info("summary written", "path", path)
		}
	}

	if metricsFile != "" {
		if err := collector.WriteToTextfile(metricsFile); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		slog.Error("failed to write results", "error", err)
		os.Exit(exitWriteResultsFailed)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
