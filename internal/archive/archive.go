// Package archive copies quarantine files to S3-compatible storage for
// offsite retention. Local .errors files are never modified; each scheduled
// run uploads a point-in-time snapshot of every file under the quarantine
// directory.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/pkg/logger"
)

var Module = fx.Module("archive",
	fx.Provide(NewService),
)

// Service uploads quarantine snapshots to an S3-compatible bucket.
type Service struct {
	client *s3.Client
	cfg    config.ArchiveConfig
	log    *slog.Logger
}

// NewService creates the archive service. When the archive target isn't
// configured the service is disabled and uploads are no-ops.
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	svc := &Service{
		cfg: cfg.Archive,
		log: log.With(logger.Scope("archive")),
	}
	if !cfg.Archive.Enabled() {
		svc.log.Info("quarantine archive disabled - no storage configured")
		return svc, nil
	}

	// Custom endpoint resolver for MinIO
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Archive.Endpoint,
				HostnameImmutable: true,
				SigningRegion:     cfg.Archive.Region,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Archive.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Archive.AccessKey,
			cfg.Archive.SecretKey,
			"",
		)),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	// Path-style addressing (required for MinIO)
	svc.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	svc.log.Info("quarantine archive initialized",
		slog.String("endpoint", cfg.Archive.Endpoint),
		slog.String("bucket", cfg.Archive.Bucket),
	)
	return svc, nil
}

// Enabled returns true if the archive target is configured
func (s *Service) Enabled() bool {
	return s.client != nil
}

// UploadQuarantineFiles snapshots every .errors file under dir into the
// archive bucket. Returns how many files were uploaded.
func (s *Service) UploadQuarantineFiles(ctx context.Context, dir string) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quarantine dir: %w", err)
	}

	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".errors") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := s.uploadFile(ctx, path, entry.Name()); err != nil {
			s.log.Error("failed to archive quarantine file",
				slog.String("file", entry.Name()),
				logger.Error(err))
			continue
		}
		uploaded++
	}

	if uploaded > 0 {
		s.log.Info("quarantine snapshot archived", slog.Int("files", uploaded))
	}
	return uploaded, nil
}

func (s *Service) uploadFile(ctx context.Context, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil
	}

	key := SnapshotKey(name, time.Now().UTC())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	s.log.Debug("quarantine file archived",
		slog.String("key", key),
		slog.Int64("size", info.Size()))
	return nil
}

// SnapshotKey builds the object key for one quarantine snapshot.
// Format: {date}/{sanitized_name}-{uuid}
func SnapshotKey(name string, at time.Time) string {
	return fmt.Sprintf("%s/%s-%s", at.Format("2006-01-02"), SanitizeName(name), uuid.New().String())
}

// SanitizeName cleans a file name for use in an object key
func SanitizeName(name string) string {
	if name == "" {
		return "unnamed"
	}

	// Replace special characters with underscores
	re := regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	sanitized := re.ReplaceAllString(name, "_")

	// Collapse multiple underscores
	re = regexp.MustCompile(`_{2,}`)
	sanitized = re.ReplaceAllString(sanitized, "_")

	// Trim leading/trailing underscores
	sanitized = strings.Trim(sanitized, "_")

	// Lowercase
	sanitized = strings.ToLower(sanitized)

	// Limit length
	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}

	if sanitized == "" {
		return "unnamed"
	}

	return sanitized
}
