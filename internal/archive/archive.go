// Package archive copies ledger entries to S3-compatible object storage as
// newline-delimited JSON. Each run uploads the entries written since the
// last completed run, so the bucket holds the full ledger history.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dukerupert/famhabit/internal/config"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/store"
)

// ErrDisabled is returned when no bucket is configured.
var ErrDisabled = errors.New("ledger archive not configured")

const defaultBatch = 1000

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads ledger entries in batches, one object per batch. With a
// passphrase set, every object is sealed before upload.
type Archiver struct {
	mu         sync.RWMutex
	client     s3Client
	bucket     string
	prefix     string
	passphrase string
	batch      int

	ledger *store.LedgerStore
	runs   *store.ArchiveStore
	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an Archiver for cfg. When cfg is not enabled the Archiver
// exists but every Run returns ErrDisabled.
func New(cfg config.S3, ls *store.LedgerStore, as *store.ArchiveStore, logger *slog.Logger) *Archiver {
	a := &Archiver{
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		passphrase: cfg.Passphrase,
		batch:      defaultBatch,
		ledger:     ls,
		runs:       as,
		logger:     logger.With("component", "archive"),
		now:        time.Now,
	}
	if cfg.Enabled() {
		a.client = newS3Client(cfg)
	}
	return a
}

func newS3Client(cfg config.S3) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Run archives every entry written since the last completed run and
// returns the runs it recorded. A failed upload is recorded and stops the
// run; the next run retries from the same entry.
func (a *Archiver) Run(ctx context.Context) ([]model.ArchiveRun, error) {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return nil, ErrDisabled
	}

	cursor, err := a.runs.LastArchivedEntryID(ctx)
	if err != nil {
		return nil, err
	}

	var done []model.ArchiveRun
	for {
		entries, err := a.ledger.ListAfter(ctx, cursor, a.batch)
		if err != nil {
			return done, err
		}
		if len(entries) == 0 {
			return done, nil
		}

		run, err := a.upload(ctx, client, entries)
		if err != nil {
			return done, err
		}
		done = append(done, *run)
		cursor = run.LastEntryID

		if len(entries) < a.batch {
			return done, nil
		}
	}
}

func (a *Archiver) upload(ctx context.Context, client s3Client, entries []model.LedgerEntry) (*model.ArchiveRun, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return nil, fmt.Errorf("encode ledger entry %d: %w", entries[i].ID, err)
		}
	}

	body, contentType, ext := buf.Bytes(), "application/x-ndjson", ".ndjson"
	if a.passphrase != "" {
		sealed, err := Seal(body, a.passphrase)
		if err != nil {
			return nil, fmt.Errorf("seal ledger batch: %w", err)
		}
		body, contentType, ext = sealed, "application/octet-stream", ".ndjson.enc"
	}

	key := fmt.Sprintf("%s%s/%s%s", a.prefix, a.now().UTC().Format("2006/01/02"), uuid.NewString(), ext)
	run := model.ArchiveRun{
		ObjectKey:    key,
		FirstEntryID: entries[0].ID,
		LastEntryID:  entries[len(entries)-1].ID,
		Entries:      len(entries),
		SizeBytes:    int64(len(body)),
		Status:       model.ArchiveCompleted,
	}

	_, putErr := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"first-entry-id": fmt.Sprint(run.FirstEntryID),
			"last-entry-id":  fmt.Sprint(run.LastEntryID),
		},
	})
	if putErr != nil {
		run.Status = model.ArchiveFailed
		run.ErrorMessage = putErr.Error()
		run.SizeBytes = 0
	}

	recorded, err := a.runs.Create(ctx, run)
	if err != nil {
		return nil, err
	}
	if putErr != nil {
		a.logger.Error("ledger archive upload failed", "key", key, "first_entry_id", run.FirstEntryID, "error", putErr)
		return nil, fmt.Errorf("upload %s: %w", key, putErr)
	}

	a.logger.Info("ledger archived", "key", key, "entries", run.Entries,
		"first_entry_id", run.FirstEntryID, "last_entry_id", run.LastEntryID, "bytes", run.SizeBytes)
	return recorded, nil
}

// Start runs the archiver every interval until Stop. It does nothing when
// no bucket is configured.
func (a *Archiver) Start(ctx context.Context, interval time.Duration) {
	a.mu.Lock()
	if a.client == nil {
		a.mu.Unlock()
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	a.mu.Unlock()

	go func() {
		defer close(a.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error("scheduled ledger archive", "error", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the scheduled loop.
func (a *Archiver) Stop() {
	a.mu.RLock()
	cancel := a.cancel
	done := a.done
	a.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
