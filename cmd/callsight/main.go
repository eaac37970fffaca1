package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"callsight/internal/config"
	"callsight/internal/gateway"
	"callsight/internal/ingest"
	"callsight/internal/logger"
	"callsight/internal/orchestrator"
	"callsight/internal/record"
	"callsight/internal/store"
	"callsight/internal/vectorindex"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var configPath string

func main() {
	_ = godotenv.Load() // loads .env

	rootCmd := &cobra.Command{
		Use:   "callsight",
		Short: "Call recording analysis pipeline",
		Long: `Callsight ingests call recordings, runs per-stage LLM analysis
(sentiment, intent, quality, compliance, outcome) with strict output
validation, stores one JSON record per call, and keeps a semantic
search index in sync.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("callsight %s (%s, %s)\n", version, commit, buildDate)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openGateway builds the inference gateway from config. USE_MOCK_LLM=true
// swaps in the deterministic mock so the pipeline runs without credentials.
func openGateway(cfg *config.Config) (gateway.Gateway, error) {
	if os.Getenv("USE_MOCK_LLM") == "true" {
		logger.Component("main").Info("using mock inference gateway")
		return &gateway.Mock{}, nil
	}
	return gateway.NewOpenAI(gateway.OpenAIConfig{
		BaseURL:        cfg.OpenAI.BaseURL,
		APIKey:         cfg.APIKey(),
		WhisperModel:   cfg.OpenAI.WhisperModel,
		LLMModel:       cfg.OpenAI.LLMModel,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Timeout:        cfg.Pipeline.RequestTimeout(),
	})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newIngestCmd() *cobra.Command {
	var (
		watch        bool
		manifestPath string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Discover and transcribe recordings into the call store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gw, err := openGateway(cfg)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DataDir)
			if err != nil {
				return err
			}

			in := ingest.New(st, gw, cfg.ClientID)
			if manifestPath != "" {
				entries, err := ingest.LoadManifest(manifestPath)
				if err != nil {
					return err
				}
				in.UseManifest(entries)
			}

			ctx, cancel := signalContext()
			defer cancel()

			if watch {
				err := in.Watch(ctx, cfg.RecordingsDir, 2*time.Second)
				if err == context.Canceled {
					return nil
				}
				return err
			}

			res, err := in.IngestAll(ctx, cfg.RecordingsDir)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep watching the recordings directory")
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "xlsx manifest with per-recording metadata")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var (
		force  bool
		stages []string
		calls  []string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run analysis stages over stored calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gw, err := openGateway(cfg)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DataDir)
			if err != nil {
				return err
			}

			var kinds []record.Kind
			for _, s := range stages {
				k := record.Kind(s)
				if !k.Valid() {
					return fmt.Errorf("unknown stage %q", s)
				}
				kinds = append(kinds, k)
			}

			orch := orchestrator.New(st, gw, orchestrator.RetryPolicy{
				TransportRetries:  cfg.Pipeline.TransportRetries,
				ValidationRetries: cfg.Pipeline.ValidationRetries,
				InitialBackoff:    cfg.Pipeline.InitialBackoff(),
			}, cfg.Compliance, cfg.Pipeline.MaxConcurrent)

			ctx, cancel := signalContext()
			defer cancel()

			summary, err := orch.RunAll(ctx, calls, kinds, force)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-run stages even when a valid section exists")
	cmd.Flags().StringSliceVarP(&stages, "stage", "s", nil, "stages to run (default all)")
	cmd.Flags().StringSliceVar(&calls, "call", nil, "call ids to analyze (default all)")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Sync analyzed calls into the search index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gw, err := openGateway(cfg)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DataDir)
			if err != nil {
				return err
			}

			if rebuild {
				if err := os.Remove(cfg.IndexDB); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove index: %w", err)
				}
			}

			ix, err := vectorindex.Open(cfg.IndexDB, gw)
			if err != nil {
				return err
			}
			defer ix.Close()

			ctx, cancel := signalContext()
			defer cancel()

			res, err := ix.Sync(ctx, st, args)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "drop and re-embed the whole index")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		topK       int
		clientID   string
		sentiment  string
		riskLevels []string
		minQuality int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over indexed calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gw, err := openGateway(cfg)
			if err != nil {
				return err
			}
			ix, err := vectorindex.Open(cfg.IndexDB, gw)
			if err != nil {
				return err
			}
			defer ix.Close()

			filters := vectorindex.Filters{
				ClientID:   clientID,
				Sentiment:  sentiment,
				RiskLevels: riskLevels,
			}
			if cmd.Flags().Changed("min-quality") {
				filters.MinQuality = &minQuality
			}

			ctx, cancel := signalContext()
			defer cancel()

			matches, err := ix.Search(ctx, args[0], topK, filters)
			if err != nil {
				return err
			}
			return printJSON(cmd, matches)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "maximum results")
	cmd.Flags().StringVar(&clientID, "client", "", "filter by client id")
	cmd.Flags().StringVar(&sentiment, "sentiment", "", "filter by overall sentiment")
	cmd.Flags().StringSliceVar(&riskLevels, "risk", nil, "filter by risk levels")
	cmd.Flags().IntVar(&minQuality, "min-quality", 0, "minimum quality score")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
