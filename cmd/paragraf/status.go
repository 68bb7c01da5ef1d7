package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/paragraf/paragraf"
	"github.com/paragraf/paragraf/store"
)

// statusResult is the per-dataset status for JSON output.
type statusResult struct {
	Dataset      string    `json:"dataset"`
	LastModified time.Time `json:"last_modified"`
	SyncedAt     time.Time `json:"synced_at"`
	FileCount    int       `json:"file_count"`
}

// runStatus prints sync metadata for the local cache. It always exits
// zero; an empty cache is a state, not an error.
func runStatus(ctx context.Context, logger *slog.Logger, args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	asJSON := flags.Bool("json", false, "output as JSON")
	if err := flags.Parse(args); err != nil {
		return exitOK
	}

	svc, err := paragraf.New(ctx, paragraf.ConfigFromEnv(), paragraf.WithLogger(logger))
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitOK
	}
	defer svc.Close()

	status, err := svc.GetSyncStatus(ctx)
	if err != nil {
		logger.Error("reading sync status failed", "error", err)
		return exitOK
	}

	if *asJSON {
		results := make([]statusResult, 0, len(status))
		for _, meta := range sortedMeta(status) {
			results = append(results, statusResult{
				Dataset:      meta.Dataset,
				LastModified: meta.LastModified,
				SyncedAt:     meta.SyncedAt,
				FileCount:    meta.FileCount,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
		return exitOK
	}

	if len(status) == 0 {
		fmt.Println("Ingen data synkronisert. Kjør 'paragraf sync' først.")
		return exitOK
	}
	for _, meta := range sortedMeta(status) {
		fmt.Printf("%s: %d filer, sist endret %s, synkronisert %s\n",
			meta.Dataset, meta.FileCount,
			meta.LastModified.Format("2006-01-02"),
			meta.SyncedAt.Format(time.RFC3339))
	}
	return exitOK
}

func sortedMeta(status map[string]store.SyncMeta) []store.SyncMeta {
	out := make([]store.SyncMeta, 0, len(status))
	for _, name := range []string{"lover", "forskrifter"} {
		if meta, ok := status[name]; ok {
			out = append(out, meta)
		}
	}
	for name, meta := range status {
		if name != "lover" && name != "forskrifter" {
			out = append(out, meta)
		}
	}
	return out
}
