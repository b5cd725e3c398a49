package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// SnapshotLoader loads a whole embedding-store snapshot.
type SnapshotLoader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads a snapshot JSON object from S3.
type S3Loader struct {
	api    s3GetObjectAPI
	bucket string
	key    string
}

// NewS3Loader creates a loader for s3://bucket/key.
func NewS3Loader(api s3GetObjectAPI, bucket, key string) *S3Loader {
	if api == nil {
		panic("rag: s3 client cannot be nil")
	}
	if bucket == "" || key == "" {
		panic("rag: s3 bucket and key cannot be empty")
	}
	return &S3Loader{api: api, bucket: bucket, key: key}
}

// Load fetches and decodes the snapshot object.
func (l *S3Loader) Load(ctx context.Context) (*Snapshot, error) {
	out, err := l.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		return nil, fmt.Errorf("rag: failed to fetch snapshot s3://%s/%s: %w", l.bucket, l.key, err)
	}
	defer out.Body.Close()
	return decodeSnapshot(out.Body)
}

// FileLoader reads a snapshot from the local filesystem. Used in development
// and by the embedding-generation scripts' output.
type FileLoader struct {
	path string
}

// NewFileLoader creates a loader for a local snapshot file.
func NewFileLoader(path string) *FileLoader {
	if path == "" {
		panic("rag: snapshot path cannot be empty")
	}
	return &FileLoader{path: path}
}

// Load reads and decodes the snapshot file.
func (l *FileLoader) Load(ctx context.Context) (*Snapshot, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("rag: failed to open snapshot %s: %w", l.path, err)
	}
	defer f.Close()
	return decodeSnapshot(f)
}

func decodeSnapshot(r io.Reader) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("rag: failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}
