package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	appsvc "docqa/internal/app"
	"docqa/internal/bootstrap"
	"docqa/internal/config"
	"docqa/internal/model"
	"docqa/internal/pkg/jwtutil"
	"docqa/internal/pkg/logger"
	rabbitmqClient "docqa/internal/platform/rabbitmq"
	"docqa/internal/repository"
	"docqa/internal/vectorstore"
)

func newRootCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:           "docqactl",
		Short:         "Administer the document Q&A service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				return os.Setenv("CONFIG_FILE", configFile)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	cmd.AddCommand(newTokenCommand(), newDocumentsCommand())
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	var (
		subject string
		ttl     time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for the API and chat socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
			}
			token, err := jwtutil.IssueToken(cfg.Auth.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	issue.Flags().StringVar(&subject, "subject", "admin", "Token subject")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.jwt_expire_minute)")

	cmd.AddCommand(issue)
	return cmd
}

func newDocumentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Inspect and re-process documents",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := bootstrap.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			docs := appsvc.NewDocumentService(repository.NewDocumentRepository(db), nil, cfg.Storage.UploadsDir, cfg.Upload.MaxBytes)
			found, err := docs.List(status, limit)
			if err != nil {
				return err
			}
			return printDocuments(cmd.OutOrStdout(), found)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (uploaded, processing, ready, failed)")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of documents")

	reprocess := &cobra.Command{
		Use:   "reprocess <id>",
		Short: "Run ingestion again for an uploaded, failed or stuck document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return reprocessDocument(cmd.Context(), cmd.OutOrStdout(), cfg, uint(id))
		},
	}

	cmd.AddCommand(list, reprocess)
	return cmd
}

// reprocessDocument queues the document on RabbitMQ, or with the local dispatcher
// runs ingestion in this process and waits for it.
func reprocessDocument(ctx context.Context, out io.Writer, cfg *config.Config, id uint) error {
	db, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	repo := repository.NewDocumentRepository(db)
	lease := appsvc.WithProcessingLease(appsvc.ProcessingLease(cfg.IngestTimeout()))

	if cfg.Ingest.Dispatcher == "rabbitmq" {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
		if err != nil {
			return err
		}
		defer conn.Close()

		docs := appsvc.NewDocumentService(repo, rabbitmqClient.NewIngestPublisher(conn, cfg.RabbitMQ.IngestQueue),
			cfg.Storage.UploadsDir, cfg.Upload.MaxBytes, lease)
		doc, err := docs.Reprocess(ctx, id)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "document %d queued for ingestion\n", doc.ID)
		return err
	}

	embedder, err := bootstrap.NewEmbedder(cfg)
	if err != nil {
		return err
	}
	store, err := vectorstore.New(cfg.Storage.VectorDir)
	if err != nil {
		return err
	}
	ingest := appsvc.NewIngestService(repo, embedder, store, bootstrap.IngestConfig(cfg))
	dispatcher := appsvc.NewLocalDispatcher(ingest)
	docs := appsvc.NewDocumentService(repo, dispatcher, cfg.Storage.UploadsDir, cfg.Upload.MaxBytes, lease)

	if _, err := docs.Reprocess(ctx, id); err != nil {
		return err
	}
	if err := dispatcher.Close(ctx); err != nil {
		return err
	}

	doc, err := docs.Get(id)
	if err != nil {
		return err
	}
	return printDocuments(out, []model.Document{*doc})
}

func printDocuments(out io.Writer, docs []model.Document) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tSTATUS\tCHUNKS\tCREATED\tREASON")
	for _, d := range docs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			d.ID, d.Filename, d.Status, d.ChunkCount, d.CreatedAt.Format(time.DateTime), d.FailureReason)
	}
	return w.Flush()
}
