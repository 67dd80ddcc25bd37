package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Uploader pushes gate snapshots to an S3 bucket so the mirror record
// can reference a URL instead of a path that only exists on the box.
type Uploader struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

func NewUploader(ctx context.Context, bucket, region string, log zerolog.Logger) (*Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &Uploader{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		log:    log,
	}, nil
}

// Upload stores the file under its base name and returns the object URL.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	key := filepath.Base(path)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to %s: %w", key, u.bucket, err)
	}

	url := fmt.Sprintf("https://%s.s3.amazonaws.com/%s", u.bucket, key)
	u.log.Info().Str("bucket", u.bucket).Str("key", key).Msg("snapshot uploaded")
	return url, nil
}
