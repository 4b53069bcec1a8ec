package awsadp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mashiike/promptloop"
)

// S3Recorder implements promptloop.Recorder by buffering JSONL entries and
// writing them to a single S3 object on Flush.
type S3Recorder struct {
	client *s3.Client
	bucket string
	key    string
	append bool

	mu      sync.Mutex
	buffer  bytes.Buffer
	enc     *json.Encoder
	flushed bool // true once the existing object has been merged
	dirty   bool
}

// S3RecorderConfig provides configuration for S3Recorder
type S3RecorderConfig struct {
	Client *s3.Client
	Bucket string
	Key    string
	Append bool // keep entries already stored under Key
}

// NewS3Recorder creates a new S3Recorder instance
func NewS3Recorder(cfg S3RecorderConfig) *S3Recorder {
	r := &S3Recorder{
		client: cfg.Client,
		bucket: cfg.Bucket,
		key:    cfg.Key,
		append: cfg.Append,
	}
	r.enc = json.NewEncoder(&r.buffer)
	return r
}

// NewS3RecorderFromURL creates an S3Recorder for an s3://bucket/key URL using
// the default AWS configuration.
func NewS3RecorderFromURL(ctx context.Context, rawURL string) (*S3Recorder, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3Recorder(S3RecorderConfig{
		Client: s3.NewFromConfig(awsCfg),
		Bucket: bucket,
		Key:    key,
		Append: true,
	}), nil
}

// ParseS3URL splits s3://bucket/key into bucket and key.
func ParseS3URL(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL %q: %w", rawURL, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme != "s3" || u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q: expected s3://bucket/key", rawURL)
	}
	return u.Host, key, nil
}

// Record implements promptloop.Recorder
func (r *S3Recorder) Record(_ context.Context, entry promptloop.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to encode transcript entry: %w", err)
	}
	r.dirty = true
	return nil
}

// Flush uploads the transcript. With Append the entries already stored
// under the key are kept in front of the new ones.
func (r *S3Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return nil
	}
	if r.append && !r.flushed {
		existing, err := r.load(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			merged := append(existing, r.buffer.Bytes()...)
			r.buffer.Reset()
			r.buffer.Write(merged)
		}
	}

	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.key),
		Body:        bytes.NewReader(r.buffer.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to put transcript to S3: %w", err)
	}
	r.flushed = true
	r.dirty = false
	return nil
}

// Close flushes the transcript.
func (r *S3Recorder) Close() error {
	return r.Flush(context.Background())
}

func (r *S3Recorder) load(ctx context.Context) ([]byte, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transcript from S3: %w", err)
	}
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	if n := len(data); n > 0 && data[n-1] != '\n' {
		data = append(data, '\n')
	}
	return data, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "StatusCode: 404")
}
