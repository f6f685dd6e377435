package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/core/usecase"
)

// DocumentService is the slice of the ingestion use case the CLI drives.
type DocumentService interface {
	Index(ctx context.Context, req domain.IndexRequest) (*domain.IndexResult, error)
	Delete(ctx context.Context, groupID int64, documentName string, purgeArchive bool) (int, error)
	ReindexArchive(ctx context.Context, onResult func(domain.ArchivedDocument, *domain.IndexResult, error)) (usecase.ReindexReport, error)
}

// Deps defers connecting to storage until a command actually runs.
type Deps struct {
	Open  func(ctx context.Context) (DocumentService, func(), error)
	Setup func(ctx context.Context) error
}

func NewRootCommand(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "indexer",
		Short:         "Manage the filings document index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSetupCommand(deps),
		newScanCommand(deps),
		newIndexCommand(deps),
		newDeleteCommand(deps),
	)
	return root
}

func newSetupCommand(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create database tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := deps.Setup(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}

func newScanCommand(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Re-index every archived document",
		Long:  `Walks the document archive and rebuilds the index entries for each file. Failures are reported per document and do not stop the scan.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := deps.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			report, err := svc.ReindexArchive(cmd.Context(), func(doc domain.ArchivedDocument, result *domain.IndexResult, err error) {
				if err != nil {
					fmt.Fprintf(out, "FAIL %d/%s: %v\n", doc.GroupID, doc.DocumentName, err)
					return
				}
				fmt.Fprintf(out, "ok   %d/%s pages=%d chunks=%d\n", doc.GroupID, doc.DocumentName, result.PagesProcessed, result.ChunksStored)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "indexed=%d failed=%d chunks=%d\n", report.Indexed, report.Failed, report.Chunks)
			if report.Failed > 0 {
				return fmt.Errorf("%d documents failed to index", report.Failed)
			}
			return nil
		},
	}
}

func newIndexCommand(deps Deps) *cobra.Command {
	var (
		groupID    int64
		name       string
		reportDate string
		reportType string
	)
	cmd := &cobra.Command{
		Use:   "index [file]",
		Short: "Index a single document and archive it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			svc, closeFn, err := deps.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := svc.Index(cmd.Context(), domain.IndexRequest{
				GroupID:      groupID,
				DocumentName: name,
				Data:         data,
				ReportDate:   reportDate,
				ReportKind:   reportType,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d/%s pages=%d/%d chunks=%d archived=%t\n",
				result.GroupID, result.DocumentName, result.PagesProcessed, result.TotalPages, result.ChunksStored, result.Archived)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&groupID, "group", "g", 0, "Group id the document belongs to")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Document name (defaults to the file name)")
	cmd.Flags().StringVar(&reportDate, "report-date", "", "Report date stored with every chunk")
	cmd.Flags().StringVar(&reportType, "report-type", "", "Report type stored with every chunk, e.g. 10-K")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func newDeleteCommand(deps Deps) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "delete [group-id] [document-name]",
		Short: "Remove a document from the index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid group id %q", args[0])
			}

			svc, closeFn, err := deps.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			removed, err := svc.Delete(cmd.Context(), groupID, args[1], purge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d chunks from %d/%s\n", removed, groupID, args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge-archive", false, "Also remove the archived source file")
	return cmd
}
