package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloo-solutions/interviewcoach/internal/config"
	"github.com/cloo-solutions/interviewcoach/internal/database"
	"github.com/cloo-solutions/interviewcoach/internal/domain"
	"github.com/cloo-solutions/interviewcoach/internal/gateway"
	"github.com/cloo-solutions/interviewcoach/internal/logger"
	"github.com/cloo-solutions/interviewcoach/internal/openai"
	"github.com/cloo-solutions/interviewcoach/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SeedDocument is one entry of a seed file
type SeedDocument struct {
	ID   string            `yaml:"id"`
	Text string            `yaml:"text"`
	Tags map[string]string `yaml:"tags"`
}

type seedFile struct {
	Documents []SeedDocument `yaml:"documents"`
}

// LoadSeedFile reads reference material from a YAML file of the form
//
//	documents:
//	  - id: star-method
//	    text: "A strong behavioral answer ..."
//	    tags: {topic: behavioral}
func LoadSeedFile(path string) ([]SeedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seen := make(map[string]bool, len(f.Documents))
	for i, doc := range f.Documents {
		if strings.TrimSpace(doc.ID) == "" {
			return nil, fmt.Errorf("document %d: missing id", i+1)
		}
		if strings.TrimSpace(doc.Text) == "" {
			return nil, fmt.Errorf("document %s: missing text", doc.ID)
		}
		if seen[doc.ID] {
			return nil, fmt.Errorf("document %s: duplicate id", doc.ID)
		}
		seen[doc.ID] = true
	}
	return f.Documents, nil
}

// IndexCmd groups the retrieval index maintenance commands
func IndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the retrieval index of reference material",
	}
	cmd.AddCommand(indexSeedCmd())
	cmd.AddCommand(indexStatsCmd())
	return cmd
}

func indexSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Embed reference material from a YAML file and store it",
		RunE:  runIndexSeed,
	}
	cmd.Flags().StringP("file", "f", "", "YAML file with documents to index")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func indexStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the number of stored retrieval documents",
		RunE:  runIndexStats,
	}
}

func runIndexSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path, _ := cmd.Flags().GetString("file")
	docs, err := LoadSeedFile(path)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasDatabase() || !cfg.HasOpenAI() {
		return fmt.Errorf("seeding needs COACH_DATABASE_URL and COACH_OPENAI_API_KEY")
	}
	log := logger.New(logger.Config{Debug: cfg.Debug, FilePath: cfg.LogFile})
	defer func() { _ = log.Sync() }()

	aiClient := openai.NewClientWithConfig(openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL})
	policy := gateway.DefaultPolicy(cfg.EmbeddingTimeout)
	policy.MaxRetries = cfg.TransportRetries
	gw := gateway.New(gateway.Config{
		Concurrency:         cfg.GatewayConcurrency,
		EmbeddingDimensions: aiClient.Dimensions(),
		Embedding:           policy,
	}, nil, nil, aiClient, log)

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return err
	}
	defer pool.Close()
	// embed everything before writing so a failed call leaves the table untouched
	prepared := make([]*domain.RetrievalDocument, 0, len(docs))
	for _, doc := range docs {
		vec, err := gw.Embed(ctx, doc.Text)
		if err != nil {
			return fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
		}
		rd := &domain.RetrievalDocument{
			ID:        doc.ID,
			Text:      strings.TrimSpace(doc.Text),
			Tags:      doc.Tags,
			Embedding: vec,
			CreatedAt: time.Now().UTC(),
		}
		if err := domain.ValidateRetrievalDocument(rd, aiClient.Dimensions()); err != nil {
			return fmt.Errorf("document %s: %w", doc.ID, err)
		}
		prepared = append(prepared, rd)
		log.Debug("document embedded", zap.String("id", doc.ID))
	}

	err = repository.NewTxRunner(pool).WithDocumentsTx(ctx, func(repo *repository.RetrievalDocumentRepository) error {
		for _, rd := range prepared {
			if err := repo.Upsert(ctx, rd); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store documents: %w", err)
	}
	log.Info("documents indexed", zap.Int("count", len(prepared)))

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents\n", len(docs))
	return nil
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasDatabase() {
		return fmt.Errorf("COACH_DATABASE_URL is not set")
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := repository.NewRetrievalDocumentRepository(pool).Count(ctx)
	if err != nil {
		return err
	}

	if output, _ := cmd.Flags().GetBool("output"); output {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]int{"documents": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d documents\n", n)
	return nil
}
