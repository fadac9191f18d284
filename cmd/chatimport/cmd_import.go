package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatimport/internal/conversation"
	"chatimport/internal/importer"
	"chatimport/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	importParallel  int
	importOut       string
	importFormat    string
	importNoArchive bool
)

// importCmd imports one or more share links
var importCmd = &cobra.Command{
	Use:   "import [share-url...]",
	Short: "Import shared conversations",
	Long: `Imports each share link and prints the resulting conversations.

Images are written to storage.images_dir. When the archive is enabled each
conversation is also stored in the SQLite archive.

Examples:
  chatimport import https://claude.ai/share/abc
  chatimport import --parallel 4 --format yaml URL1 URL2 URL3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().IntVarP(&importParallel, "parallel", "p", 2, "Imports to run at once, each in its own page")
	importCmd.Flags().StringVarP(&importOut, "out", "o", "", "Write results to this file instead of stdout")
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "json", "Output format: json or yaml")
	importCmd.Flags().BoolVar(&importNoArchive, "no-archive", false, "Do not store results in the archive")
}

// importOutcome is one URL's entry in the command output.
type importOutcome struct {
	URL            string                     `json:"url" yaml:"url"`
	ConversationID string                     `json:"conversationId,omitempty" yaml:"conversation_id,omitempty"`
	Result         *conversation.ImportResult `json:"result,omitempty" yaml:"result,omitempty"`
	Error          string                     `json:"error,omitempty" yaml:"error,omitempty"`
}

func runImport(cmd *cobra.Command, args []string) error {
	if importFormat != "json" && importFormat != "yaml" {
		return fmt.Errorf("unsupported format %q (valid: json, yaml)", importFormat)
	}
	if importParallel < 1 {
		importParallel = 1
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(!importNoArchive)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.close(shutdownCtx)
	}()

	log := logging.Named(logger, logging.CategoryImporter)
	outcomes := make([]importOutcome, len(args))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importParallel)
	for i, u := range args {
		i, u := i, u
		g.Go(func() error {
			outcomes[i] = importOne(gctx, a, u, log)
			return nil
		})
	}
	_ = g.Wait()

	if err := writeOutcomes(cmd.OutOrStdout(), outcomes); err != nil {
		return err
	}

	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(outcomes))
	}
	return nil
}

func importOne(ctx context.Context, a *app, url string, log *zap.Logger) importOutcome {
	out := importOutcome{URL: url}
	result, err := a.importer.Import(ctx, url)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Result = result
	log.Info("imported", zap.String("url", url), zap.String("summary", importer.Describe(result)))

	if a.archive != nil {
		id, err := a.archive.Save(ctx, result)
		if err != nil {
			log.Error("archive save failed", zap.String("url", url), zap.Error(err))
			out.Error = fmt.Sprintf("archive: %v", err)
			return out
		}
		out.ConversationID = id
	}
	return out
}

func writeOutcomes(w io.Writer, outcomes []importOutcome) (err error) {
	if importOut != "" {
		f, err := os.Create(importOut)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return encode(w, importFormat, outcomes)
}

func encode(w io.Writer, format string, v interface{}) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
