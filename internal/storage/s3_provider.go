package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/mmartingarciia/retroducer/internal/models"
)

// S3Client is the subset of the S3 API used by S3Provider.
// *s3.Client satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Provider stores media files as objects under an optional key prefix.
// It backs bench rigs where the card is emulated by a bucket.
type S3Provider struct {
	client S3Client
	bucket string
	prefix string
}

func NewS3Provider(client S3Client, bucket, prefix string) *S3Provider {
	return &S3Provider{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (p *S3Provider) key(relativePath string) string {
	if p.prefix == "" {
		return relativePath
	}
	return p.prefix + "/" + relativePath
}

// Opens an object. Reads stream the GetObject body; writes stream through a
// pipe into a background PutObject that completes on Close.
func (p *S3Provider) Open(ctx context.Context, relativePath string, mode Mode) (File, error) {
	if mode == ModeWrite {
		pr, pw := io.Pipe()
		w := &s3Writer{pw: pw, done: make(chan struct{})}
		go func() {
			defer close(w.done)
			_, w.uploadErr = p.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(p.bucket),
				Key:    aws.String(p.key(relativePath)),
				Body:   pr,
			})
			pr.CloseWithError(w.uploadErr)
		}()
		return w, nil
	}

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(relativePath)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("failed to open object %s: %w", relativePath, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", relativePath, err)
	}
	return &s3Reader{body: out.Body}, nil
}

func (p *S3Provider) GetMetadata(ctx context.Context, relativePath string) (models.FileMetadata, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(relativePath)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return models.FileMetadata{}, fmt.Errorf("error stating object %s: %w", relativePath, ErrNotFound)
		}
		return models.FileMetadata{}, fmt.Errorf("error stating object %s: %w", relativePath, err)
	}
	meta := models.FileMetadata{RelativePath: relativePath, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		meta.ModTime = *out.LastModified
	}
	return meta, nil
}

// Lists objects directly under the prefix; nested keys are ignored.
func (p *S3Provider) BuildStateMap(ctx context.Context) (map[string]models.FileMetadata, error) {
	listPrefix := ""
	if p.prefix != "" {
		listPrefix = p.prefix + "/"
	}
	stateMap := make(map[string]models.FileMetadata)
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing bucket %s: %w", p.bucket, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), listPrefix)
			if name == "" || strings.HasPrefix(name, ".") {
				continue
			}
			meta := models.FileMetadata{RelativePath: name, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				meta.ModTime = *obj.LastModified
			}
			stateMap[name] = meta
		}
	}
	return stateMap, nil
}

// S3 deletes are idempotent, so existence is checked first to report ErrNotFound.
func (p *S3Provider) DeleteFile(ctx context.Context, relativePath string) error {
	if _, err := p.GetMetadata(ctx, relativePath); err != nil {
		return fmt.Errorf("failed to delete %s: %w", relativePath, err)
	}
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(relativePath)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", relativePath, err)
	}
	return nil
}

func (p *S3Provider) Usage(context.Context) (models.StorageUsage, error) {
	return models.StorageUsage{}, errors.New("storage: s3 buckets have no fixed capacity")
}

func (p *S3Provider) GetPath() string {
	return "s3://" + p.bucket + "/" + p.prefix
}

type s3Reader struct {
	body io.ReadCloser
}

func (r *s3Reader) Read(b []byte) (int, error) { return r.body.Read(b) }

func (r *s3Reader) Write([]byte) (int, error) {
	return 0, errors.New("storage: object not open for writing")
}

func (r *s3Reader) Close() error { return r.body.Close() }

type s3Writer struct {
	pw        *io.PipeWriter
	done      chan struct{}
	uploadErr error
}

func (w *s3Writer) Read([]byte) (int, error) {
	return 0, errors.New("storage: object not open for reading")
}

func (w *s3Writer) Write(b []byte) (int, error) {
	return w.pw.Write(b)
}

// Close signals EOF to PutObject and waits for the upload to finish.
func (w *s3Writer) Close() error {
	w.pw.Close()
	<-w.done
	return w.uploadErr
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var _ StorageProvider = (*S3Provider)(nil)
