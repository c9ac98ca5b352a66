// Package archive uploads an audit snapshot of every sync run to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"wattmint/backend/services/sync-service/internal/models"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Snapshot is the audit record of one run: what was read, what was credited.
type Snapshot struct {
	RunID    string             `json:"run_id"`
	CallerID string             `json:"caller_id"`
	UserID   string             `json:"user_id"`
	Readings []models.Reading   `json:"readings"`
	Deltas   []models.Delta     `json:"deltas"`
	Result   *models.SyncResult `json:"result"`
	Archived time.Time          `json:"archived_at"`
}

// Key returns the object key sync-runs/<user>/<yyyy>/<mm>/<dd>/<run>.json.
func Key(s Snapshot, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("sync-runs/%s/%04d/%02d/%02d/%s.json", s.UserID, at.Year(), int(at.Month()), at.Day(), s.RunID)
}

// Noop discards snapshots. Used when no bucket is configured.
type Noop struct{}

func (Noop) Archive(context.Context, Snapshot) error { return nil }

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the bucket. BaseEndpoint targets S3-compatible stores such as MinIO.
type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// S3Archiver writes snapshots as JSON objects.
type S3Archiver struct {
	client putObjectAPI
	bucket string
	now    func() time.Time
}

// NewS3Archiver builds the S3 client. Static keys are used when set, otherwise the
// default AWS credential chain applies.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, snap Snapshot) error {
	now := a.now()
	snap.Archived = now.UTC()
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(Key(snap, now)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", snap.RunID, err)
	}
	return nil
}
