package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendalia/catalog-ai-platform/internal/messaging"
)

type fakeDynamo struct {
	items      map[string]map[string]types.AttributeValue
	putErr     error
	updateErr  error
	getErr     error
	lastUpdate *dynamodb.UpdateItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemJobID(item map[string]types.AttributeValue) string {
	if v, ok := item["jobId"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	id := itemJobID(in.Item)
	if _, exists := f.items[id]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.lastUpdate = in
	id := itemJobID(in.Key)
	item, exists := f.items[id]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	// Enough of an update for status transitions: apply the status value.
	if v, ok := in.ExpressionAttributeValues[":status"]; ok {
		item["status"] = v
	}
	if v, ok := in.ExpressionAttributeValues[":response"]; ok {
		item["response"] = v
	}
	if v, ok := in.ExpressionAttributeValues[":error"]; ok {
		item["errorMessage"] = v
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	item, exists := f.items[itemJobID(in.Key)]
	if !exists {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func TestJobStoreLifecycle(t *testing.T) {
	api := newFakeDynamo()
	store := NewJobStore(api, "turn-jobs", nil)
	ctx := context.Background()

	job := &JobRecord{
		JobID:          "job-1",
		ConversationID: "573001234567",
		Request:        &TurnRequest{ConversationID: "573001234567", From: "573001234567", Text: "hola"},
	}
	require.NoError(t, store.PutQueued(ctx, job))
	assert.NotEmpty(t, job.CreatedAt)
	assert.NotZero(t, job.ExpiresAt)

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, got.Status)
	require.NotNil(t, got.Request)
	assert.Equal(t, "hola", got.Request.Text)

	require.NoError(t, store.MarkProcessing(ctx, "job-1"))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusProcessing, got.Status)

	resp := &TurnResponse{
		ConversationID: "573001234567",
		Messages:       []messaging.Message{messaging.Text("¡Hola!")},
	}
	require.NoError(t, store.MarkCompleted(ctx, "job-1", resp))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	require.NotNil(t, got.Response)
	require.Len(t, got.Response.Messages, 1)
	assert.Equal(t, "¡Hola!", got.Response.Messages[0].Text)
}

func TestJobStoreMarkFailed(t *testing.T) {
	api := newFakeDynamo()
	store := NewJobStore(api, "turn-jobs", nil)
	ctx := context.Background()

	require.NoError(t, store.PutQueued(ctx, &JobRecord{JobID: "job-2"}))
	require.NoError(t, store.MarkFailed(ctx, "job-2", "bedrock unavailable"))

	got, err := store.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "bedrock unavailable", got.ErrorMessage)
	assert.Nil(t, got.Response)
}

func TestJobStoreGetMissingJob(t *testing.T) {
	store := NewJobStore(newFakeDynamo(), "turn-jobs", nil)
	_, err := store.GetJob(context.Background(), "no-such")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobStoreRejectsDuplicateJobIDs(t *testing.T) {
	store := NewJobStore(newFakeDynamo(), "turn-jobs", nil)
	ctx := context.Background()

	require.NoError(t, store.PutQueued(ctx, &JobRecord{JobID: "job-3"}))
	assert.Error(t, store.PutQueued(ctx, &JobRecord{JobID: "job-3"}))
}

func TestJobStoreUpdateMissingJobFails(t *testing.T) {
	store := NewJobStore(newFakeDynamo(), "turn-jobs", nil)
	assert.Error(t, store.MarkProcessing(context.Background(), "ghost"))
}

func TestJobStorePropagatesClientErrors(t *testing.T) {
	api := newFakeDynamo()
	api.putErr = errors.New("throughput exceeded")
	store := NewJobStore(api, "turn-jobs", nil)

	err := store.PutQueued(context.Background(), &JobRecord{JobID: "job-4"})
	assert.Error(t, err)
}

func TestJobRecordRoundTripsThroughAttributeValues(t *testing.T) {
	job := &JobRecord{
		JobID:          "job-5",
		Status:         JobStatusQueued,
		ConversationID: "c1",
		Request:        &TurnRequest{From: "573001234567", Text: "hola"},
		CreatedAt:      "2026-03-10T10:00:00Z",
		UpdatedAt:      "2026-03-10T10:00:00Z",
		ExpiresAt:      1773144000,
	}

	item, err := attributevalue.MarshalMap(job)
	require.NoError(t, err)

	var decoded JobRecord
	require.NoError(t, attributevalue.UnmarshalMap(item, &decoded))
	assert.Equal(t, job.JobID, decoded.JobID)
	assert.Equal(t, job.Request.Text, decoded.Request.Text)
	assert.Equal(t, job.ExpiresAt, decoded.ExpiresAt)
}
