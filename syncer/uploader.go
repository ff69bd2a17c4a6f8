package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/healthbridge/errors"
	"github.com/c360/healthbridge/types"
)

// BatchSubject is the subject sync batches publish to.
const BatchSubject = "healthbridge.sync.batch"

// Batch is one upload payload: the metrics gathered in a sync cycle plus a
// content checksum the receiver can spot-check.
type Batch struct {
	Metrics    []types.HealthMetric `json:"metrics"`
	Checksum   string               `json:"checksum"`
	UploadedAt time.Time            `json:"uploaded_at"`
}

// Uploader delivers sync batches to the remote collector.
type Uploader interface {
	Upload(ctx context.Context, batch Batch) error
}

// NopUploader discards batches. The default when no collector is wired.
type NopUploader struct{}

// Upload implements Uploader.
func (NopUploader) Upload(context.Context, Batch) error { return nil }

// NATSUploader publishes batches to a NATS subject for the server-side
// collector to consume.
type NATSUploader struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSUploader creates an uploader on the default batch subject.
func NewNATSUploader(conn *nats.Conn, logger *slog.Logger) *NATSUploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSUploader{
		conn:    conn,
		subject: BatchSubject,
		logger:  logger.With("component", "syncer", "subject", BatchSubject),
	}
}

// Upload implements Uploader.
func (u *NATSUploader) Upload(_ context.Context, batch Batch) error {
	batch.UploadedAt = time.Now()

	payload, err := json.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, "syncer", "upload", "marshal batch")
	}
	if err := u.conn.Publish(u.subject, payload); err != nil {
		return errors.WrapNetwork(err, "syncer", "upload", "publish batch")
	}

	u.logger.Debug("batch uploaded", "metrics", len(batch.Metrics), "checksum", batch.Checksum)
	return nil
}

// RecordingUploader captures batches for test assertions.
type RecordingUploader struct {
	mu      sync.Mutex
	batches []Batch
	err     error
}

// Fail makes subsequent uploads return err.
func (r *RecordingUploader) Fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Upload implements Uploader.
func (r *RecordingUploader) Upload(_ context.Context, batch Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, batch)
	return nil
}

// Batches returns a copy of everything uploaded so far.
func (r *RecordingUploader) Batches() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Batch, len(r.batches))
	copy(out, r.batches)
	return out
}
