package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"claims-backend/internal/batches"
	"claims-backend/internal/claims"
	"claims-backend/internal/queue"
	"claims-backend/internal/shared/telemetry"
)

// BatchRunner runs a PENDING batch to a terminal status.
type BatchRunner interface {
	RunBatch(ctx context.Context, batchID string) (claims.Batch, error)
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingBatchID indicates a message without a batch id.
type ErrMissingBatchID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingBatchID) Error() string { return "missing batch id" }

// ErrProcess indicates the batch run failed after the message parsed.
type ErrProcess struct {
	BatchID   string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "run batch"
	}
	return "run batch: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.BatchID) == "" {
		return msg, meta, ErrMissingBatchID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// Unrecoverable reports whether redelivering the message cannot help. The
// caller should delete it. batches.ErrResumeTooEarly stays recoverable so a
// batch whose run died is resumed by a later delivery.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingBatchID
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &empty), errors.As(err, &decode), errors.As(err, &missing):
		return true
	case errors.Is(err, batches.ErrNotFound):
		return true
	default:
		return false
	}
}

// HandleMessage parses a queue payload and runs the batch it names.
func HandleMessage(ctx context.Context, runner BatchRunner, body string) (claims.Batch, error) {
	if runner == nil {
		return claims.Batch{}, errors.New("batch runner not configured")
	}
	msg, _, err := ParseMessage(body)
	if err != nil {
		return claims.Batch{}, err
	}

	ctx = telemetry.WithRequestID(ctx, msg.RequestID)
	batch, err := runner.RunBatch(ctx, msg.BatchID)
	if err != nil {
		return batch, ErrProcess{BatchID: msg.BatchID, RequestID: msg.RequestID, Err: err}
	}
	telemetry.Info("worker.batch.finished", telemetry.Fields(ctx, map[string]any{
		"batch_id":  batch.ID,
		"status":    string(batch.Status),
		"processed": batch.ProcessedFiles,
		"failed":    batch.FailedFiles,
	}))
	return batch, nil
}
