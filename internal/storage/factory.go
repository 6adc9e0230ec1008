package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/mmartingarciia/retroducer/internal/config"
)

type filesystemOptions struct {
	Path string `mapstructure:"path"`
}

type memoryOptions struct {
	MaxSizeBytes uint64 `mapstructure:"max_size_bytes"`
}

type s3Options struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// NewProvider builds the provider selected by cfg.Type from its
// type-specific section.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (StorageProvider, error) {
	switch cfg.Type {
	case "filesystem":
		var opts filesystemOptions
		if err := decodeOptions(cfg.Filesystem, &opts); err != nil {
			return nil, err
		}
		return NewFileSystemProvider(opts.Path)
	case "memory":
		var opts memoryOptions
		if err := decodeOptions(cfg.Memory, &opts); err != nil {
			return nil, err
		}
		return NewMemoryProvider(opts.MaxSizeBytes), nil
	case "s3":
		var opts s3Options
		if err := decodeOptions(cfg.S3, &opts); err != nil {
			return nil, err
		}
		client, err := newS3Client(ctx, opts)
		if err != nil {
			return nil, err
		}
		return NewS3Provider(client, opts.Bucket, opts.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func decodeOptions(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create options decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode storage options: %w", err)
	}
	return nil
}

func newS3Client(ctx context.Context, opts s3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	}), nil
}
