package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/paragraf/paragraf"
	"github.com/paragraf/paragraf/ingest"
)

// runSync downloads and indexes the Lovdata datasets, optionally
// backfilling embeddings afterwards. A SIGINT finishes the current
// dataset before stopping.
func runSync(ctx context.Context, logger *slog.Logger, args []string) int {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)
	force := flags.Bool("force", false, "re-ingest even when the remote archives are unchanged")
	dataset := flags.String("dataset", "", "sync only one dataset: lover or forskrifter")
	backfill := flags.Bool("backfill-embeddings", false, "embed sections missing vectors after syncing")
	batchSize := flags.Int("batch-size", 50, "sections per embedding backfill batch")
	if err := flags.Parse(args); err != nil {
		return exitFailure
	}

	svc, err := paragraf.New(ctx, paragraf.ConfigFromEnv(), paragraf.WithLogger(logger))
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitFailure
	}
	defer svc.Close()

	var reports []ingest.Report
	if *dataset != "" {
		ds, ok := datasetByName(*dataset)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown dataset %q (want lover or forskrifter)\n", *dataset)
			return exitFailure
		}
		reports = svc.SyncDataset(ctx, ds, *force)
	} else {
		reports = svc.Sync(ctx, *force)
	}

	failed := false
	for _, r := range reports {
		switch r.Status {
		case "failed":
			failed = true
			fmt.Fprintf(os.Stderr, "%s: feilet: %v\n", r.Dataset, r.Err)
		case "up-to-date":
			fmt.Printf("%s: allerede oppdatert (%d dokumenter)\n", r.Dataset, r.Documents)
		default:
			fmt.Printf("%s: synkronisert, %d dokumenter (%d hoppet over, %d merket opphevet)\n",
				r.Dataset, r.Documents, r.Skipped, r.Flipped)
		}
	}

	if *backfill && ctx.Err() == nil {
		n, err := svc.BackfillEmbeddings(ctx, *batchSize)
		if err != nil {
			logger.Error("embedding backfill failed", "error", err)
			failed = true
		} else {
			fmt.Printf("embeddings: %d seksjoner oppdatert\n", n)
		}
	}

	if failed {
		return exitFailure
	}
	return exitOK
}

func datasetByName(name string) (ingest.Dataset, bool) {
	for _, ds := range ingest.Datasets {
		if ds.Name == name {
			return ds, true
		}
	}
	return ingest.Dataset{}, false
}
