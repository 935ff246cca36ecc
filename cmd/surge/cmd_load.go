// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/teradata-labs/surge/internal/log"
	"github.com/teradata-labs/surge/pkg/messages"
	"github.com/teradata-labs/surge/pkg/oai"
	"github.com/teradata-labs/surge/pkg/ratelimit"
	"github.com/teradata-labs/surge/pkg/runner"
	"github.com/teradata-labs/surge/pkg/stats"
	"github.com/teradata-labs/surge/pkg/tokenizer"
	"go.uber.org/zap"
)

var (
	loadAPIVersion        string
	loadAPIKeyEnv         string
	loadClients           int
	loadRequests          int64
	loadDuration          int
	loadRunEndMode        string
	loadRate              float64
	loadAggregationWindow float64
	loadContextMethod     string
	loadReplayPath        string
	loadShapeProfile      string
	loadContextTokens     int
	loadMaxTokens         int
	loadPreventCaching    bool
	loadCompletions       int
	loadFrequencyPenalty  float64
	loadPresencePenalty   float64
	loadTemperature       float64
	loadTopP              float64
	loadOpenAICompatible  bool
	loadAdjustLatency     bool
	loadOutputFormat      string
	loadLogSaveDir        string
	loadLogContent        bool
	loadRetry             string
	loadDeployment        string
)

var loadCmd = &cobra.Command{
	Use:   "load <api-base-endpoint>",
	Short: "Run load generation against a chat completions endpoint",
	Long: heredoc.Doc(`
		Generate streaming chat completion load against an Azure OpenAI
		deployment or an OpenAI-compatible endpoint and aggregate per-request
		latency and throughput statistics over a sliding window.

		The positional argument is the Azure OpenAI base endpoint, or the full
		chat completions URL for OpenAI-compatible services.

		Examples:
		  # Drive a PTU deployment as fast as 20 clients allow
		  surge load -e my-gpt4-deployment -c 20 https://myaccount.openai.azure.com

		  # Cap the request rate and stop after ten minutes
		  surge load -e my-gpt4-deployment -r 60 -d 600 https://myaccount.openai.azure.com

		  # Replay recorded conversations against openai.com
		  surge load -e gpt-4o --openai-compatible \
		    --context-generation-method replay --replay-path chats.json \
		    https://api.openai.com/v1/chat/completions
	`),
	Args: cobra.ExactArgs(1),
	Run:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().StringVarP(&loadAPIVersion, "api-version", "a", "2024-12-01-preview", "Set OpenAI API version.")
	loadCmd.Flags().StringVarP(&loadAPIKeyEnv, "api-key-env", "k", "OPENAI_API_KEY", "Environment variable that contains the API KEY.")
	loadCmd.Flags().IntVarP(&loadClients, "clients", "c", 20, "Set number of parallel clients to use for load generation.")
	loadCmd.Flags().Int64VarP(&loadRequests, "requests", "n", 0, "Number of requests for the load run (whether successful or not). Defaults to 'until killed'.")
	loadCmd.Flags().IntVarP(&loadDuration, "duration", "d", 0, "Duration of load in seconds. Defaults to 'until killed'.")
	loadCmd.Flags().StringVar(&loadRunEndMode, "run-end-condition-mode", "or", "Determines whether both the requests and duration args must be reached before ending the run ('and'), or whether to end the run when either arg is reached ('or').")
	loadCmd.Flags().Float64VarP(&loadRate, "rate", "r", 0, "Rate of request generation in Requests Per Minute (RPM). Defaults to as fast as possible.")
	loadCmd.Flags().Float64VarP(&loadAggregationWindow, "aggregation-window", "w", 60, "Statistics aggregation sliding window duration in seconds.")
	loadCmd.Flags().StringVar(&loadContextMethod, "context-generation-method", "generate", "Source of context messages to be used during testing (generate, replay).")
	loadCmd.Flags().StringVar(&loadReplayPath, "replay-path", "", "Path to JSON or YAML file containing messages for replay when using --context-generation-method=replay.")
	loadCmd.Flags().StringVarP(&loadShapeProfile, "shape-profile", "s", "balanced", "Shape profile of requests (balanced, context, generation, custom).")
	loadCmd.Flags().IntVarP(&loadContextTokens, "context-tokens", "p", 0, "Number of context tokens to use when --shape-profile=custom.")
	loadCmd.Flags().IntVarP(&loadMaxTokens, "max-tokens", "m", 0, "Number of requested max_tokens when --shape-profile=custom. Defaults to unset.")
	loadCmd.Flags().BoolVar(&loadPreventCaching, "prevent-server-caching", true, "Adds a random prefix to all requests in order to prevent server-side caching.")
	loadCmd.Flags().IntVarP(&loadCompletions, "completions", "i", 1, "Number of completions for each request.")
	loadCmd.Flags().Float64Var(&loadFrequencyPenalty, "frequency-penalty", 0, "Request frequency_penalty.")
	loadCmd.Flags().Float64Var(&loadPresencePenalty, "presence-penalty", 0, "Request presence_penalty.")
	loadCmd.Flags().Float64Var(&loadTemperature, "temperature", 0, "Request temperature.")
	loadCmd.Flags().Float64Var(&loadTopP, "top-p", 0, "Request top_p.")
	loadCmd.Flags().BoolVar(&loadOpenAICompatible, "openai-compatible", false, "Indicate if the endpoint is OpenAI API compatible (like openai.com or googleapis.com).")
	loadCmd.Flags().BoolVar(&loadAdjustLatency, "adjust-for-network-latency", false, "Subtract base network latency from all latency measurements. Only use this when trying to simulate the results as if the test machine was in the same data centre as the endpoint.")
	loadCmd.Flags().StringVarP(&loadOutputFormat, "output-format", "f", "jsonl", "Output format (jsonl, human).")
	loadCmd.Flags().StringVar(&loadLogSaveDir, "log-save-dir", "", "If provided, will save run logs to this directory. Filename will include important run parameters.")
	loadCmd.Flags().BoolVar(&loadLogContent, "log-request-content", false, "Include the raw input and output content of every request in the raw call stats.")
	loadCmd.Flags().StringVarP(&loadRetry, "retry", "t", "none", "Request retry strategy (none, exponential).")
	loadCmd.Flags().StringVarP(&loadDeployment, "deployment", "e", "", "Azure OpenAI deployment name, or OpenAI.com model name.")
	_ = loadCmd.MarkFlagRequired("deployment")
}

// loadOptions carries the resolved load command arguments. Pointer
// fields distinguish unset optional flags. The json tags mirror the
// argument names in the run log line.
type loadOptions struct {
	APIBaseEndpoint         string   `json:"api_base_endpoint"`
	Deployment              string   `json:"deployment"`
	Clients                 int      `json:"clients"`
	Requests                *int64   `json:"requests"`
	Duration                *int     `json:"duration"`
	RunEndConditionMode     string   `json:"run_end_condition_mode"`
	Rate                    *float64 `json:"rate"`
	AggregationWindow       float64  `json:"aggregation_window"`
	ContextGenerationMethod string   `json:"context_generation_method"`
	ReplayPath              *string  `json:"replay_path"`
	ShapeProfile            string   `json:"shape_profile"`
	ContextTokens           *int     `json:"context_tokens"`
	MaxTokens               *int     `json:"max_tokens"`
	PreventServerCaching    bool     `json:"prevent_server_caching"`
	Completions             int      `json:"completions"`
	Retry                   string   `json:"retry"`
	APIVersion              string   `json:"api_version"`
	FrequencyPenalty        *float64 `json:"frequency_penalty"`
	PresencePenalty         *float64 `json:"presence_penalty"`
	Temperature             *float64 `json:"temperature"`
	TopP                    *float64 `json:"top_p"`
	AdjustForNetworkLatency bool     `json:"adjust_for_network_latency"`
	OutputFormat            string   `json:"output_format"`
	LogRequestContent       bool     `json:"log_request_content"`

	APIKeyEnv        string `json:"-"`
	OpenAICompatible bool   `json:"-"`
	LogSaveDir       string `json:"-"`
}

// collectLoadOptions assembles options from parsed flags. Optional
// flags keep nil pointers unless explicitly set.
func collectLoadOptions(cmd *cobra.Command, args []string) *loadOptions {
	opts := &loadOptions{
		APIBaseEndpoint:         args[0],
		Deployment:              loadDeployment,
		Clients:                 loadClients,
		RunEndConditionMode:     loadRunEndMode,
		AggregationWindow:       loadAggregationWindow,
		ContextGenerationMethod: loadContextMethod,
		ShapeProfile:            loadShapeProfile,
		PreventServerCaching:    loadPreventCaching,
		Completions:             loadCompletions,
		Retry:                   loadRetry,
		APIVersion:              loadAPIVersion,
		AdjustForNetworkLatency: loadAdjustLatency,
		OutputFormat:            loadOutputFormat,
		LogRequestContent:       loadLogContent,
		APIKeyEnv:               loadAPIKeyEnv,
		OpenAICompatible:        loadOpenAICompatible,
		LogSaveDir:              loadLogSaveDir,
	}
	flags := cmd.Flags()
	if flags.Changed("requests") {
		opts.Requests = &loadRequests
	}
	if flags.Changed("duration") {
		opts.Duration = &loadDuration
	}
	if flags.Changed("rate") {
		opts.Rate = &loadRate
	}
	if flags.Changed("replay-path") {
		opts.ReplayPath = &loadReplayPath
	}
	if flags.Changed("context-tokens") {
		opts.ContextTokens = &loadContextTokens
	}
	if flags.Changed("max-tokens") {
		opts.MaxTokens = &loadMaxTokens
	}
	if flags.Changed("frequency-penalty") {
		opts.FrequencyPenalty = &loadFrequencyPenalty
	}
	if flags.Changed("presence-penalty") {
		opts.PresencePenalty = &loadPresencePenalty
	}
	if flags.Changed("temperature") {
		opts.Temperature = &loadTemperature
	}
	if flags.Changed("top-p") {
		opts.TopP = &loadTopP
	}
	return opts
}

// validate checks argument ranges and relationships before any work
// starts. top_p is deliberately unvalidated.
func (o *loadOptions) validate() error {
	if len(o.APIVersion) == 0 {
		return fmt.Errorf("api-version is required")
	}
	if len(o.APIKeyEnv) == 0 {
		return fmt.Errorf("api-key-env is required")
	}
	if _, ok := os.LookupEnv(o.APIKeyEnv); !ok {
		return fmt.Errorf("api-key-env %s not set", o.APIKeyEnv)
	}
	if o.Clients < 1 {
		return fmt.Errorf("clients must be > 0")
	}
	if o.Requests != nil && *o.Requests < 0 {
		return fmt.Errorf("requests must be > 0")
	}
	if o.Duration != nil && *o.Duration != 0 && *o.Duration < 30 {
		return fmt.Errorf("duration must be > 30")
	}
	if o.RunEndConditionMode != runner.ModeAnd && o.RunEndConditionMode != runner.ModeOr {
		return fmt.Errorf("run-end-condition-mode must be one of: ['and', 'or']")
	}
	if o.Rate != nil && *o.Rate < 0 {
		return fmt.Errorf("rate must be > 0")
	}
	switch o.ContextGenerationMethod {
	case "replay":
		if o.ReplayPath == nil || *o.ReplayPath == "" {
			return fmt.Errorf("replay-path is required when context-generation-method=replay")
		}
	case "generate":
		if o.ShapeProfile == "custom" && (o.ContextTokens == nil || *o.ContextTokens < 1) {
			return fmt.Errorf("context-tokens must be specified with shape=custom")
		}
	default:
		return fmt.Errorf("context-generation-method must be one of: ['generate', 'replay']")
	}
	switch o.ShapeProfile {
	case "balanced", "context", "generation", "custom":
	default:
		return fmt.Errorf("shape-profile must be one of: ['balanced', 'context', 'generation', 'custom']")
	}
	if o.MaxTokens != nil && *o.MaxTokens < 0 {
		return fmt.Errorf("max-tokens must be > 0")
	}
	if o.Completions < 1 {
		return fmt.Errorf("completions must be > 0")
	}
	if o.FrequencyPenalty != nil && (*o.FrequencyPenalty < -2 || *o.FrequencyPenalty > 2) {
		return fmt.Errorf("frequency-penalty must be between -2.0 and 2.0")
	}
	if o.PresencePenalty != nil && (*o.PresencePenalty < -2 || *o.PresencePenalty > 2) {
		return fmt.Errorf("presence-penalty must be between -2.0 and 2.0")
	}
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2.0")
	}
	switch o.OutputFormat {
	case "jsonl", "human":
	default:
		return fmt.Errorf("output-format must be one of: ['jsonl', 'human']")
	}
	switch o.Retry {
	case "none", "exponential":
	default:
		return fmt.Errorf("retry must be one of: ['none', 'exponential']")
	}
	return nil
}

// resolveShape maps a shape profile to its context and max token
// counts. Custom keeps the flag values as given.
func resolveShape(o *loadOptions) (contextTokens int, maxTokens *int) {
	maxTokens = o.MaxTokens
	if o.ContextTokens != nil {
		contextTokens = *o.ContextTokens
	}
	if o.ContextGenerationMethod != "generate" {
		return 0, maxTokens
	}
	switch o.ShapeProfile {
	case "balanced":
		contextTokens, maxTokens = 500, intPtr(500)
	case "context":
		contextTokens, maxTokens = 2000, intPtr(200)
	case "generation":
		contextTokens, maxTokens = 500, intPtr(1000)
	}
	return contextTokens, maxTokens
}

func intPtr(v int) *int { return &v }

// optIntString renders an optional count for log lines and filenames.
func optIntString(v *int) string {
	if v == nil {
		return "none"
	}
	return strconv.Itoa(*v)
}

// perRunLogPath names the per-run log file after the parameters that
// shape the run, so files from repeated runs sort and compare easily.
func perRunLogPath(dir string, opts *loadOptions, now time.Time) string {
	var tokenConfig string
	switch {
	case opts.ContextGenerationMethod == "replay":
		base := filepath.Base(*opts.ReplayPath)
		base = strings.SplitN(base, ".", 2)[0]
		tokenConfig = fmt.Sprintf("replay-basename=%s_max-tokens=%s", base, optIntString(opts.MaxTokens))
	case opts.ShapeProfile == "custom":
		tokenConfig = fmt.Sprintf("shape=custom_context-tokens=%s_max-tokens=%s", optIntString(opts.ContextTokens), optIntString(opts.MaxTokens))
	default:
		tokenConfig = "shape=" + opts.ShapeProfile
	}
	rate := "none"
	if opts.Rate != nil {
		rate = strconv.Itoa(int(*opts.Rate))
	}
	name := fmt.Sprintf("%s_%s_%s_clients=%d_rate=%s.log",
		now.Format("2006-01-02-15-04-05"), opts.Deployment, tokenConfig, opts.Clients, rate)
	return filepath.Join(dir, name)
}

func runLoad(cmd *cobra.Command, args []string) {
	opts := collectLoadOptions(cmd, args)
	if err := opts.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid argument(s): %v\n", err)
		os.Exit(1)
	}

	logger := log.Logger()
	if opts.LogSaveDir != "" {
		if err := os.MkdirAll(opts.LogSaveDir, 0o755); err != nil {
			logger.Fatal("failed to create log directory", zap.Error(err))
		}
		path := perRunLogPath(opts.LogSaveDir, opts, time.Now())
		// Start the per-run file fresh on every invocation.
		_ = os.Remove(path)
		var err error
		logger, err = log.Configure(logConfig([]string{path}))
		if err != nil {
			log.Logger().Fatal("failed to configure per-run log file", zap.Error(err))
		}
	}

	if err := executeLoad(cmd.Context(), opts, logger); err != nil {
		logger.Fatal("load test failed", zap.Error(err))
	}
}

// executeLoad runs the full load sequence: endpoint resolution, model
// detection, message source construction, then the bounded run.
func executeLoad(ctx context.Context, opts *loadOptions, logger *zap.Logger) error {
	argsJSON, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("failed to encode run args: %w", err)
	}
	logger.Info("Load test args: "+string(argsJSON), zap.String("run_id", uuid.New().String()))

	apiKey := os.Getenv(opts.APIKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("API key is not set - make sure to set the environment variable '%s'", opts.APIKeyEnv)
	}

	compatible := oai.IsOpenAICompatible(opts.APIBaseEndpoint, opts.OpenAICompatible)
	url := oai.BuildURL(opts.APIBaseEndpoint, opts.Deployment, opts.APIVersion, compatible)

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if opts.Rate != nil && *opts.Rate > 0 {
		limiter, err = ratelimit.NewTokenBucket(*opts.Rate, time.Minute)
		if err != nil {
			return err
		}
	}

	httpClient := oai.NewHTTPClient(opts.Clients)

	// The served model can differ from the deployment name, and token
	// counting must follow the model.
	model := opts.Deployment
	if !compatible {
		model, err = oai.DetectModel(ctx, httpClient, url, apiKey)
		if err != nil {
			return err
		}
	}
	logger.Info(fmt.Sprintf("model detected: %s", model))

	var latencyAdjustment time.Duration
	if opts.AdjustForNetworkLatency {
		logger.Info("checking ping to endpoint...")
		latencyAdjustment, err = oai.MeasureLatency(ctx, url)
		if err != nil {
			return fmt.Errorf("failed to measure endpoint latency: %w", err)
		}
		logger.Info(fmt.Sprintf("average ping to endpoint: %dms. this will be subtracted from all aggregate latency metrics.", latencyAdjustment.Milliseconds()))
	}

	counter, err := tokenizer.NewCounter(model, logger)
	if err != nil {
		return err
	}

	contextTokens, maxTokens := resolveShape(opts)

	var source messages.Source
	switch opts.ContextGenerationMethod {
	case "generate":
		logger.Info(fmt.Sprintf("using random messages generation with shape profile %s: context tokens: %d, max tokens: %s",
			opts.ShapeProfile, contextTokens, optIntString(maxTokens)))
		source, err = messages.NewRandomSource(messages.RandomConfig{
			Counter:              counter,
			PreventServerCaching: opts.PreventServerCaching,
			ContextTokens:        contextTokens,
			MaxTokens:            maxTokens,
			Logger:               logger,
		})
	case "replay":
		logger.Info(fmt.Sprintf("replaying messages from %s", *opts.ReplayPath))
		source, err = messages.NewReplaySource(messages.ReplayConfig{
			Counter:              counter,
			PreventServerCaching: opts.PreventServerCaching,
			Path:                 *opts.ReplayPath,
			Logger:               logger,
		})
	}
	if err != nil {
		return err
	}

	if opts.RunEndConditionMode == runner.ModeAnd {
		logger.Info(fmt.Sprintf("run-end-condition-mode='%s': run will not end until BOTH the `requests` and `duration` limits are reached", opts.RunEndConditionMode))
	} else {
		logger.Info(fmt.Sprintf("run-end-condition-mode='%s': run will end when EITHER the `requests` or `duration` limit is reached", opts.RunEndConditionMode))
	}

	template := &oai.RequestTemplate{
		MaxTokens:        maxTokens,
		Completions:      &opts.Completions,
		FrequencyPenalty: opts.FrequencyPenalty,
		PresencePenalty:  opts.PresencePenalty,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
	}
	if compatible {
		// model param is only for OpenAI-compatible endpoints
		template.Model = opts.Deployment
	}

	expectedGenTokens := 0
	if maxTokens != nil {
		expectedGenTokens = *maxTokens
	}
	aggregator, err := stats.NewAggregator(stats.Config{
		Clients:           opts.Clients,
		Window:            time.Duration(opts.AggregationWindow * float64(time.Second)),
		DumpInterval:      time.Second,
		ExpectedGenTokens: expectedGenTokens,
		JSONOutput:        opts.OutputFormat == "jsonl",
		IncludeContent:    opts.LogRequestContent,
		LatencyAdjustment: latencyAdjustment,
		Output:            os.Stdout,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	client, err := oai.NewClient(oai.Config{
		URL:              url,
		APIKey:           apiKey,
		OpenAICompatible: compatible,
		Retry:            opts.Retry == "exponential",
		PreventCaching:   opts.PreventServerCaching,
		Counter:          counter,
		HTTPClient:       httpClient,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	work := func(ctx context.Context) {
		msgs, _ := source.Next()
		body := template.Build(msgs)
		aggregator.RecordNewRequest()
		st := client.Call(ctx, body)
		aggregator.AggregateRequest(st)
	}

	executor, err := runner.NewExecutor(runner.Config{
		Work:    work,
		Limiter: limiter,
		Clients: opts.Clients,
		Finish: func() {
			aggregator.Stop()
			aggregator.DumpRawStats()
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	cond := runner.RunEndCondition{Mode: opts.RunEndConditionMode}
	if opts.Requests != nil {
		cond.MaxRequests = *opts.Requests
	}
	if opts.Duration != nil {
		cond.MaxDuration = time.Duration(*opts.Duration) * time.Second
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting load...")
	aggregator.Start()
	executor.Run(runCtx, cond)
	logger.Info("finished load test")
	return nil
}
