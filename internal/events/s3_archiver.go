package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Archiver writes terminal promotion snapshots to object storage at paths
// like:
//
//	s3://<bucket>/<prefix>/promotions/YYYY/MM/DD/<promotionID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials come from the
// environment (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID etc.).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// Attach subscribes the archiver to the terminal lifecycle events only;
// intermediate states are not archived.
func (a *S3Archiver) Attach(pub *Publisher) {
	for _, name := range Terminal {
		pub.Subscribe(name, func(evt Event) {
			if err := a.Archive(context.Background(), evt); err != nil {
				log.Printf("[events] s3 archive %s: %v", evt.Promotion.ID, err)
			}
		})
	}
}

// Archive uploads the event's promotion snapshot.
func (a *S3Archiver) Archive(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ts := evt.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	key := path.Join(a.prefix, "promotions",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", evt.Promotion.ID),
	)

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}
