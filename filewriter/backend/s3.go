package backend

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 writes master files to an S3 bucket via the managed uploader, which
// handles multipart upload for files above the manager's part-size
// threshold without the caller needing to chunk anything.
type S3 struct {
	Bucket   string
	uploader *manager.Uploader
}

// NewS3 loads the default AWS config chain (env vars, shared config,
// instance profile) the way every aws-sdk-go-v2 client does.
func NewS3(ctx context.Context, bucket string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return &S3{Bucket: bucket, uploader: manager.NewUploader(client)}, nil
}

func (s *S3) Provider() string { return "s3" }

func (s *S3) Write(ctx context.Context, path string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	return err
}
