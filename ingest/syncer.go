// Package ingest downloads Lovdata dataset archives, parses their
// documents and drives the store's ingestion operations.
package ingest

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/paragraf/paragraf/embed"
	"github.com/paragraf/paragraf/parser"
	"github.com/paragraf/paragraf/store"
)

// DefaultBaseURL is the public Lovdata data hub.
const DefaultBaseURL = "https://hub.lovdata.no"

// Dataset is one downloadable corpus archive.
type Dataset struct {
	Name    string // sync_meta key
	Archive string // filename on the hub
	DocType string
}

// Datasets lists the corpora a full sync covers, in sync order.
var Datasets = []Dataset{
	{Name: "lover", Archive: "gjeldende-lover.tar.bz2", DocType: "lov"},
	{Name: "forskrifter", Archive: "gjeldende-sentrale-forskrifter.tar.bz2", DocType: "forskrift"},
}

// Report is the outcome of syncing one dataset.
type Report struct {
	Dataset   string
	Status    string // "synced", "up-to-date", "failed"
	Documents int
	Skipped   int
	Flipped   int // documents marked non-current
	Err       error
}

// Syncer drives dataset synchronization against a Backend.
type Syncer struct {
	store    store.Backend
	embedder *embed.Client
	baseURL  string
	cacheDir string
	policy   RetryPolicy
	logger   *slog.Logger
	progress bool

	listClient     *http.Client
	downloadClient *http.Client
}

// SyncOption configures a Syncer.
type SyncOption func(*Syncer)

// WithBaseURL overrides the hub URL, mainly for tests.
func WithBaseURL(url string) SyncOption {
	return func(s *Syncer) { s.baseURL = strings.TrimRight(url, "/") }
}

// WithEmbedder enables embedding backfill after sync.
func WithEmbedder(c *embed.Client) SyncOption {
	return func(s *Syncer) { s.embedder = c }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) SyncOption {
	return func(s *Syncer) { s.logger = l }
}

// WithRetryPolicy overrides the env-derived retry policy.
func WithRetryPolicy(p RetryPolicy) SyncOption {
	return func(s *Syncer) { s.policy = p }
}

// WithProgress forces progress bars on or off. The default shows them
// only when stderr is a terminal.
func WithProgress(enabled bool) SyncOption {
	return func(s *Syncer) { s.progress = enabled }
}

// NewSyncer creates a Syncer writing extracted files under cacheDir.
func NewSyncer(backend store.Backend, cacheDir string, opts ...SyncOption) *Syncer {
	s := &Syncer{
		store:          backend,
		baseURL:        DefaultBaseURL,
		cacheDir:       cacheDir,
		policy:         RetryPolicyFromEnv(),
		logger:         slog.Default(),
		progress:       isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
		listClient:     &http.Client{Timeout: 30 * time.Second},
		downloadClient: &http.Client{Timeout: 300 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncAll syncs every dataset. One failed dataset does not stop the
// others; cancellation between datasets does.
func (s *Syncer) SyncAll(ctx context.Context, force bool) []Report {
	reports := make([]Report, 0, len(Datasets))
	for _, ds := range Datasets {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, s.SyncDataset(ctx, ds, force))
	}
	return reports
}

// SyncDataset syncs one dataset end to end: listing check, download,
// extract+parse+upsert, reconcile, index rebuild, bookkeeping.
func (s *Syncer) SyncDataset(ctx context.Context, ds Dataset, force bool) Report {
	rep := Report{Dataset: ds.Name}

	remote, err := s.remoteModified(ctx, ds.Archive)
	if err != nil {
		rep.Status = "failed"
		rep.Err = fmt.Errorf("listing %s: %w", ds.Archive, err)
		return rep
	}

	if !force {
		status, err := s.store.GetSyncStatus(ctx)
		if err != nil {
			rep.Status = "failed"
			rep.Err = err
			return rep
		}
		if meta, ok := status[ds.Name]; ok && !meta.LastModified.Before(remote) {
			rep.Status = "up-to-date"
			rep.Documents, _ = s.store.CountDocuments(ctx, ds.DocType)
			s.logger.Info("dataset up to date", "dataset", ds.Name, "last_modified", meta.LastModified)
			return rep
		}
	}

	archivePath, err := s.download(ctx, ds)
	if err != nil {
		rep.Status = "failed"
		rep.Err = fmt.Errorf("downloading %s: %w", ds.Archive, err)
		return rep
	}
	defer os.Remove(archivePath)

	presentIDs, count, skipped, err := s.extractAndUpsert(ctx, ds, archivePath)
	if err != nil {
		rep.Status = "failed"
		rep.Err = err
		return rep
	}
	rep.Documents = count
	rep.Skipped = skipped

	flipped, err := s.store.ReconcileCurrent(ctx, ds.DocType, presentIDs)
	if err != nil {
		rep.Status = "failed"
		rep.Err = fmt.Errorf("reconciling %s: %w", ds.Name, err)
		return rep
	}
	rep.Flipped = flipped

	// One rebuild per dataset, after all upserts.
	if err := s.store.RebuildFTS(ctx); err != nil {
		rep.Status = "failed"
		rep.Err = fmt.Errorf("rebuilding index: %w", err)
		return rep
	}
	if err := s.store.SetSyncStatus(ctx, ds.Name, remote, count); err != nil {
		rep.Status = "failed"
		rep.Err = err
		return rep
	}

	rep.Status = "synced"
	s.logger.Info("dataset synced",
		"dataset", ds.Name, "documents", count, "skipped", skipped, "non_current", flipped)
	return rep
}

type listEntry struct {
	Filename     string `json:"filename"`
	LastModified string `json:"lastModified"`
}

func (s *Syncer) remoteModified(ctx context.Context, archive string) (time.Time, error) {
	var entries []listEntry
	err := Do(ctx, s.logger, "list "+archive, s.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/v1/publicData/list", nil)
		if err != nil {
			return err
		}
		resp, err := s.listClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &httpStatusError{
				status:     resp.StatusCode,
				url:        req.URL.String(),
				retryAfter: embed.ParseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		entries = entries[:0]
		return json.NewDecoder(resp.Body).Decode(&entries)
	})
	if err != nil {
		return time.Time{}, err
	}

	for _, e := range entries {
		if e.Filename != archive {
			continue
		}
		t, err := time.Parse(time.RFC3339, e.LastModified)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad lastModified %q: %w", e.LastModified, err)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("archive %s not in listing", archive)
}

// download streams the archive to a temp file and returns its path.
func (s *Syncer) download(ctx context.Context, ds Dataset) (string, error) {
	var tmpPath string
	err := Do(ctx, s.logger, "download "+ds.Archive, s.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, "GET",
			s.baseURL+"/v1/publicData/get/"+ds.Archive, nil)
		if err != nil {
			return err
		}
		resp, err := s.downloadClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &httpStatusError{
				status:     resp.StatusCode,
				url:        req.URL.String(),
				retryAfter: embed.ParseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}

		tmp, err := os.CreateTemp("", "paragraf-"+ds.Name+"-*.tar.bz2")
		if err != nil {
			return err
		}
		var w io.Writer = tmp
		if s.progress {
			bar := progressbar.DefaultBytes(resp.ContentLength, "laster ned "+ds.Archive)
			w = io.MultiWriter(tmp, bar)
		}
		_, copyErr := io.Copy(w, resp.Body)
		closeErr := tmp.Close()
		if copyErr != nil {
			os.Remove(tmp.Name())
			return copyErr
		}
		if closeErr != nil {
			os.Remove(tmp.Name())
			return closeErr
		}
		tmpPath = tmp.Name()
		return nil
	})
	if err != nil {
		return "", err
	}
	return tmpPath, nil
}

// extractAndUpsert walks the archive, caches each XML entry on disk,
// parses it and upserts the result. Per-entry failures are logged and
// skipped.
func (s *Syncer) extractAndUpsert(ctx context.Context, ds Dataset, archivePath string) ([]string, int, int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()
	return s.ingestTar(ctx, ds, tar.NewReader(bzip2.NewReader(f)))
}

func (s *Syncer) ingestTar(ctx context.Context, ds Dataset, tr *tar.Reader) (presentIDs []string, count, skipped int, err error) {
	entryDir := filepath.Join(s.cacheDir, ds.Name)
	if err := os.MkdirAll(entryDir, 0755); err != nil {
		return nil, 0, 0, err
	}
	for {
		if ctx.Err() != nil {
			return nil, 0, 0, ctx.Err()
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, ".xml") {
			continue
		}

		name := path.Base(hdr.Name)
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("reading %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(entryDir, name), data, 0644); err != nil {
			return nil, 0, 0, err
		}

		stem := strings.TrimSuffix(name, ".xml")
		res, err := parser.Parse(bytes.NewReader(data), stem)
		if err != nil {
			s.logger.Warn("skipping unparsable entry", "dataset", ds.Name, "file", name, "error", err)
			skipped++
			continue
		}
		if err := s.store.UpsertDocument(ctx, res.Document, res.Structures, res.Sections); err != nil {
			s.logger.Warn("skipping failed upsert", "dataset", ds.Name, "dok_id", res.Document.DokID, "error", err)
			skipped++
			continue
		}
		presentIDs = append(presentIDs, res.Document.DokID)
		count++
	}
	return presentIDs, count, skipped, nil
}

// BackfillEmbeddings embeds sections whose embedding is unset, in
// batches, until none remain or ctx is cancelled. Returns the number
// embedded. Requires an embedder.
func (s *Syncer) BackfillEmbeddings(ctx context.Context, batchSize int) (int, error) {
	if s.embedder == nil {
		return 0, fmt.Errorf("no embedding client configured")
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	total := 0
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		sections, err := s.store.SectionsMissingEmbeddings(ctx, batchSize)
		if err != nil {
			return total, err
		}
		if len(sections) == 0 {
			return total, nil
		}

		for _, sec := range sections {
			var vec []float32
			err := Do(ctx, s.logger, "embed "+sec.DokID+" "+sec.SectionID, s.policy, func() error {
				v, err := s.embedder.EmbedDocument(ctx, sec.Content)
				if err != nil {
					return err
				}
				vec = v
				return nil
			})
			if err != nil {
				return total, fmt.Errorf("embedding %s § %s: %w", sec.DokID, sec.SectionID, err)
			}
			if err := s.store.UpdateEmbedding(ctx, sec.DokID, sec.SectionID, vec); err != nil {
				return total, err
			}
			total++
		}
		if len(sections) < batchSize {
			return total, nil
		}
	}
}
