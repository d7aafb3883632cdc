package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/config"
)

// NewMirror builds the mirror selected by cfg. It returns nil for "none".
func NewMirror(ctx context.Context, cfg config.BackupConfig, log *slog.Logger) (Mirror, error) {
	switch cfg.Mirror {
	case config.MirrorFS:
		return &DirMirror{Dir: cfg.MirrorDir}, nil
	case config.MirrorS3:
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "backup mirror enabled",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("prefix", cfg.S3Prefix),
		)
		return NewS3Mirror(client, cfg.S3Bucket, cfg.S3Prefix), nil
	default:
		return nil, nil
	}
}

// DirMirror copies backups into a second directory, e.g. a network share.
type DirMirror struct {
	Dir string
}

func (m *DirMirror) Put(_ context.Context, name, src string) error {
	return fileio.CopyFile(src, filepath.Join(m.Dir, name))
}

// ObjectPutter is the part of the S3 client the mirror needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror uploads backups into a bucket under a key prefix.
type S3Mirror struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Mirror creates an S3Mirror.
func NewS3Mirror(client ObjectPutter, bucket, prefix string) *S3Mirror {
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix}
}

func (m *S3Mirror) Put(ctx context.Context, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fileio.Classify("open backup", src, err)
	}
	defer f.Close()

	key := path.Join(m.prefix, name)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", m.bucket, key, err)
	}
	return nil
}

func newS3Client(ctx context.Context, cfg config.BackupConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
