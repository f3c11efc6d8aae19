package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"claims-backend/internal/bootstrap"
	"claims-backend/internal/shared/config"
	"claims-backend/internal/shared/telemetry"
	"claims-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg, bootstrap.Options{RunLocally: true})
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda_worker.bootstrap_failed", map[string]any{"err": initErr})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return processRecords(ctx, app.Batches, event.Records), nil
}

// processRecords reports only records worth redelivering as failures.
func processRecords(ctx context.Context, runner workerproc.BatchRunner, records []events.SQSMessage) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range records {
		batch, err := workerproc.HandleMessage(ctx, runner, record.Body)
		fields := map[string]any{"sqs_message_id": record.MessageId}
		switch {
		case err == nil:
			fields["batch_id"] = batch.ID
			fields["status"] = string(batch.Status)
			telemetry.Info("lambda_worker.batch.completed", fields)
		case workerproc.Unrecoverable(err):
			fields["error"] = err.Error()
			telemetry.Error("lambda_worker.batch.unrecoverable", fields)
		default:
			fields["error"] = err.Error()
			telemetry.Error("lambda_worker.batch.failed", fields)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
