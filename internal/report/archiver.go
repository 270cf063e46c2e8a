// Package report archives terminal run reports to object storage.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// RunReport is the terminal summary of one pull lifecycle run.
type RunReport struct {
	RunID       string    `json:"runId"`
	Model       string    `json:"model"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Provisioned bool      `json:"provisioned"`
	GatewayID   string    `json:"gatewayId,omitempty"`
	CreatedGW   bool      `json:"createdGateway"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// Archiver persists run reports. Archiving is best-effort; callers log
// failures and move on.
type Archiver interface {
	ArchiveRun(ctx context.Context, r RunReport) error
}

// NopArchiver is used when no report bucket is configured.
type NopArchiver struct{}

func (NopArchiver) ArchiveRun(context.Context, RunReport) error { return nil }

// S3Archiver writes run reports to S3 paths like:
//
//	s3://<bucket>/<prefix>/pulls/YYYY/MM/DD/<runID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

func NewS3Archiver(client *s3.Client, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

func (a *S3Archiver) ArchiveRun(ctx context.Context, r RunReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	ts := r.FinishedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	key := path.Join(a.prefix, "pulls",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", r.RunID),
	)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
