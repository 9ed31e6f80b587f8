package transfer

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the direct S3 mover. Endpoint and path-style support
// MinIO-compatible object stores.
type S3Config struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

// S3 uploads directly with the AWS SDK and removes the local file on
// success, avoiding the rclone dependency where a plain bucket is enough.
type S3 struct {
	client *s3.Client
	bucket string
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
			},
		}))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = cfg.PathStyle })
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (m *S3) Move(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Path: localPath, Err: err}
	}
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	cerr := f.Close()
	if err != nil {
		return &TransferError{Path: localPath, Err: err}
	}
	if cerr != nil {
		return &TransferError{Path: localPath, Err: cerr}
	}
	// Move semantics: drop the local copy only after the upload succeeded.
	if err := os.Remove(localPath); err != nil {
		return &TransferError{Path: localPath, Err: err}
	}
	return nil
}
