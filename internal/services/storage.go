package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StorageService handles S3 file operations for statement files
type StorageService struct {
	s3Client *s3.Client
	bucket   string
	region   string
}

// NewStorageService creates a new storage service instance
// For LocalStack: endpoint should be "http://localhost:4566"
// For production AWS: endpoint should be ""
func NewStorageService(ctx context.Context, bucket, region, endpoint string) (*StorageService, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	if region == "" {
		return nil, fmt.Errorf("region cannot be empty")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		// LocalStack accepts any static credentials
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &StorageService{
		s3Client: client,
		bucket:   bucket,
		region:   region,
	}, nil
}

// GenerateStatementKey creates the S3 key for a statement upload
// Format: statements/{businessID}/{year}-{month}-{timestamp}-{filename}
func (s *StorageService) GenerateStatementKey(businessID string, year, month int, filename string) (string, error) {
	if businessID == "" {
		return "", fmt.Errorf("businessID cannot be empty")
	}
	if filename == "" {
		return "", fmt.Errorf("filename cannot be empty")
	}

	ext := filepath.Ext(filename)
	baseName := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, strings.TrimSuffix(filename, ext))

	key := fmt.Sprintf("statements/%s/%d-%02d-%d-%s%s",
		businessID, year, month, time.Now().UTC().UnixMilli(), baseName, strings.ToLower(ext))
	return key, nil
}

// GeneratePresignedURL generates a presigned PUT URL for direct uploads
func (s *StorageService) GeneratePresignedURL(ctx context.Context, key, contentType string, expiryMinutes int) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}
	if expiryMinutes <= 0 {
		return "", fmt.Errorf("expiryMinutes must be greater than 0")
	}
	if s.s3Client == nil {
		return "", fmt.Errorf("s3 client is not initialized")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	presignedReq, err := s3.NewPresignClient(s.s3Client).PresignPutObject(ctx, input,
		s3.WithPresignExpires(time.Duration(expiryMinutes)*time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignedReq.URL, nil
}

// UploadFile stores a statement file under key
func (s *StorageService) UploadFile(ctx context.Context, key, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if s.s3Client == nil {
		return fmt.Errorf("s3 client is not initialized")
	}

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return nil
}

// DownloadFile downloads a file from S3 and returns a reader
func (s *StorageService) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}
	if s.s3Client == nil {
		return nil, fmt.Errorf("s3 client is not initialized")
	}

	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download file from S3: %w", err)
	}

	return result.Body, nil
}

// DeleteFile deletes a file from S3
func (s *StorageService) DeleteFile(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if s.s3Client == nil {
		return fmt.Errorf("s3 client is not initialized")
	}

	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}

	return nil
}

// ObjectDownloader is the S3 side of FileFetcher
type ObjectDownloader interface {
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
}

// FileFetcher resolves a statement's stored file reference to its bytes.
// References are S3 keys (optionally s3://bucket/key), gs://bucket/object
// or plain http(s) URLs.
type FileFetcher struct {
	objects    ObjectDownloader
	httpClient *http.Client
	maxBytes   int64
}

// NewFileFetcher creates a fetcher; objects may be nil when S3 is not configured
func NewFileFetcher(objects ObjectDownloader, httpClient *http.Client, maxBytes int64) *FileFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &FileFetcher{objects: objects, httpClient: httpClient, maxBytes: maxBytes}
}

// Fetch returns the content behind ref
func (f *FileFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case ref == "":
		return nil, fmt.Errorf("file reference cannot be empty")
	case strings.HasPrefix(ref, "gs://"):
		return f.fetchGCS(ctx, ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	default:
		return f.fetchS3(ctx, ref)
	}
}

func (f *FileFetcher) fetchS3(ctx context.Context, ref string) ([]byte, error) {
	if f.objects == nil {
		return nil, fmt.Errorf("object storage is not configured")
	}

	key := ref
	if strings.HasPrefix(ref, "s3://") {
		// s3://bucket/key, the bucket is fixed by configuration
		_, key, _ = strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
	}

	body, err := f.objects.DownloadFile(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return f.readAll(body)
}

func (f *FileFetcher) fetchGCS(ctx context.Context, ref string) ([]byte, error) {
	bucket, object, ok := strings.Cut(strings.TrimPrefix(ref, "gs://"), "/")
	if !ok || bucket == "" || object == "" {
		return nil, fmt.Errorf("invalid gs reference: %s", ref)
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()
	return f.readAll(r)
}

func (f *FileFetcher) fetchHTTP(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}
	return f.readAll(resp.Body)
}

func (f *FileFetcher) readAll(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", f.maxBytes)
	}
	return data, nil
}
