package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"claims-backend/internal/claims"
	"claims-backend/internal/shared/telemetry"
)

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"batchId":"b-1","ownerId":"o-1","enqueuedAt":"2026-03-02T09:00:00Z","version":1}`))
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.BatchID != "b-1" || msg.OwnerID != "o-1" || msg.Version != MessageVersion {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, err := DecodeMessage([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{}, f.err
}

func TestDispatcherSendsBatchMessage(t *testing.T) {
	api := &fakeSQS{}
	d := &Dispatcher{
		Client: NewSQSClientWithAPI(api, "https://sqs.example/q"),
		Now:    func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
	}
	ctx := telemetry.WithRequestID(context.Background(), "req-9")
	if err := d.Dispatch(ctx, claims.Batch{ID: "b-1", OwnerID: "o-1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(api.inputs) != 1 {
		t.Fatalf("expected one send, got %d", len(api.inputs))
	}
	in := api.inputs[0]
	if *in.QueueUrl != "https://sqs.example/q" {
		t.Fatalf("unexpected queue url %s", *in.QueueUrl)
	}
	msg, err := DecodeMessage([]byte(*in.MessageBody))
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := Message{BatchID: "b-1", OwnerID: "o-1", RequestID: "req-9", EnqueuedAt: "2026-03-02T09:00:00Z", Version: 1}
	if msg != want {
		t.Fatalf("got %+v want %+v", msg, want)
	}
	if *in.MessageAttributes["batchId"].StringValue != "b-1" {
		t.Fatalf("missing batchId attribute")
	}
}

func TestDispatcherPropagatesSendError(t *testing.T) {
	api := &fakeSQS{err: errors.New("throttled")}
	d := &Dispatcher{Client: NewSQSClientWithAPI(api, "q")}
	if err := d.Dispatch(context.Background(), claims.Batch{ID: "b-1"}); err == nil {
		t.Fatalf("expected send error")
	}
	if err := (&Dispatcher{}).Dispatch(context.Background(), claims.Batch{ID: "b-1"}); err == nil {
		t.Fatalf("expected missing client error")
	}
}
