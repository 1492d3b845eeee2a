package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/envqa/internal/bootstrap"
	"github.com/kirillkom/envqa/internal/config"
	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/infrastructure/testset"
	"github.com/kirillkom/envqa/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel, logFormat string

	rootCmd := &cobra.Command{
		Use:           "envqa",
		Short:         "Environmental-science question answering over a prebuilt chunk index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logging.New(logging.Options{
				Service: "envqa-cli",
				Level:   logLevel,
				Format:  logFormat,
				Writer:  os.Stderr,
			}))
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text|json")

	rootCmd.AddCommand(newAskCmd(), newEvaluateCmd(), newVerifyCmd(), newBuildIndexCmd())
	return rootCmd
}

func loadCore(ctx context.Context) (*bootstrap.Core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return bootstrap.NewCore(ctx, cfg)
}

func newAskCmd() *cobra.Command {
	var (
		threshold float64
		groupID   string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			req := domain.AnswerRequest{Question: args[0], GroupID: groupID}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &threshold
			}
			answer, err := core.AnswerUC.Answer(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, answer)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", answer.QuestionType, answer.Text)
			for _, c := range answer.Contexts {
				fmt.Fprintf(cmd.OutOrStdout(), "  %.3f %s\n", c.Similarity, c.Chunk.Key())
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0.2, "minimum retrieval similarity")
	cmd.Flags().StringVar(&groupID, "group", "", "audit log group id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full answer as JSON")
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate [testset.json]",
		Short: "Run a labeled test set and print per-item results with pooled metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tests, err := testset.LoadFile(args[0])
			if err != nil {
				return err
			}
			core, err := loadCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			report, err := core.EvaluateUC.Evaluate(cmd.Context(), tests)
			if err != nil {
				return err
			}
			return writeJSON(cmd, report)
		},
	}
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		answer   string
		gold     string
		qtype    string
		goldList []string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check whether an answer is grounded in its gold chunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := domain.ParseQuestionType(qtype)
			if err != nil {
				return err
			}
			core, err := loadCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			verdict, err := core.GroundingUC.Verify(cmd.Context(), domain.GroundingRequest{
				Answer:       answer,
				GoldChunk:    gold,
				QuestionType: parsed,
				GoldList:     goldList,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, verdict)
		},
	}
	cmd.Flags().StringVar(&answer, "answer", "", "generated answer, with [source] tags")
	cmd.Flags().StringVar(&gold, "gold", "", "gold evidence chunk text")
	cmd.Flags().StringVar(&qtype, "type", "general", "question type")
	cmd.Flags().StringSliceVar(&goldList, "gold-item", nil, "expected list item (repeatable)")
	_ = cmd.MarkFlagRequired("answer")
	_ = cmd.MarkFlagRequired("gold")
	return cmd
}

func newBuildIndexCmd() *cobra.Command {
	var (
		metric    string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "build-index",
		Short: "Embed the chunk store and write the configured index backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := domain.ParseMetric(metric)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			indexer, err := bootstrap.NewIndexer(cmd.Context(), cfg, parsed)
			if err != nil {
				return err
			}
			defer indexer.Close()

			if err := indexer.Build(cmd.Context(), batchSize); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks with %s into %s\n",
				indexer.Store.Len(), indexer.Embedder.ModelName(), cfg.IndexBackend)
			return nil
		},
	}
	cmd.Flags().StringVar(&metric, "metric", "l2", "flat index metric: l2 or ip")
	cmd.Flags().IntVar(&batchSize, "batch-size", 64, "chunks per embedding request")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
