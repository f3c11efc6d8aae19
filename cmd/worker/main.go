package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"claims-backend/internal/bootstrap"
	"claims-backend/internal/shared/config"
	"claims-backend/internal/shared/metrics"
	"claims-backend/internal/shared/telemetry"
	"claims-backend/internal/workerproc"
)

const (
	defaultRegion             = "us-east-1"
	defaultVisibilitySeconds  = 1800
	defaultBatchSlots         = 2
	defaultShutdownTimeoutSec = 60
)

func main() {
	cfg := config.Load()
	if cfg.SQSQueueURL == "" {
		telemetry.Error("worker.config", map[string]any{"err": "CA_SQS_QUEUE_URL is required"})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visibilitySeconds := envInt("CA_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	slots := envInt("CA_WORKER_BATCH_SLOTS", defaultBatchSlots)
	shutdownTimeout := time.Duration(envInt("CA_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	region := cfg.AWSRegion
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		telemetry.Error("worker.aws_config", map[string]any{"err": err})
		os.Exit(1)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	app, err := bootstrap.Build(cfg, bootstrap.Options{RunLocally: true})
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"err": err})
		os.Exit(1)
	}
	defer app.Close()

	// Each slot runs one batch; the batch fans out to WORKER_CONCURRENCY documents.
	sem := make(chan struct{}, max(1, slots))
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{
		"queue":      cfg.SQSQueueURL,
		"slots":      slots,
		"visibility": visibilitySeconds,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(cfg.SQSQueueURL),
			MaxNumberOfMessages: int32(max(1, min(slots, 10))),
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"err": err})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncBatchJobsReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				// A received batch runs to completion even during shutdown.
				handleMessage(context.WithoutCancel(ctx), sqsClient, cfg.SQSQueueURL, app.Batches, m)
			}(msg)
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout": shutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", nil)
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func handleMessage(ctx context.Context, client sqsAPI, queueURL string, runner workerproc.BatchRunner, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	meta := workerproc.ComputeMeta(body)
	fields := baseFields(msg)

	batch, err := workerproc.HandleMessage(ctx, runner, body)
	if err != nil {
		fields["error"] = err.Error()
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		var procErr workerproc.ErrProcess
		if errors.As(err, &procErr) {
			fields["batch_id"] = procErr.BatchID
		}
		if workerproc.Unrecoverable(err) {
			telemetry.Error("worker.batch.unrecoverable", fields)
			if deleteMessage(ctx, client, queueURL, msg) {
				metrics.IncBatchJobsUnrecoverable()
			}
			return
		}
		telemetry.Error("worker.batch.failed", fields)
		metrics.IncBatchJobsFailed()
		return
	}

	fields["batch_id"] = batch.ID
	fields["status"] = string(batch.Status)
	if deleteMessage(ctx, client, queueURL, msg) {
		telemetry.Info("worker.batch.completed", fields)
		metrics.IncBatchJobsCompleted()
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		telemetry.Error("worker.batch.delete_failed", map[string]any{"sqs_message_id": aws.ToString(msg.MessageId), "error": "missing receipt handle"})
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		telemetry.Error("worker.batch.delete_failed", map[string]any{"sqs_message_id": aws.ToString(msg.MessageId), "error": err.Error()})
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message) map[string]any {
	return map[string]any{
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	parsed, err := strconv.Atoi(msg.Attributes["ApproximateReceiveCount"])
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}
