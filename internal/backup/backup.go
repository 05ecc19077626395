// Package backup exports every committed document version as JSON lines,
// to a local file or to an S3 bucket, and restores such an export into an
// empty backend.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
)

const contentType = "application/x-ndjson"

// Export writes one JSON object per committed version, ordered by id then
// version, and returns the number of lines written.
func Export(ctx context.Context, st *store.Store, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	n := 0
	err := st.EachVersion(func(doc store.Document) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding %s v%d: %w", doc.ID, doc.Version, err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, bw.Flush()
}

// ToFile exports to path, replacing it only once the export is complete.
func ToFile(ctx context.Context, st *store.Store, dst string) (int, error) {
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", tmp, err)
	}
	n, err := Export(ctx, st, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, fmt.Errorf("renaming backup: %w", err)
	}
	return n, nil
}

// Restore appends every version read from r to backend. The backend should
// be empty; versions are written as they appear in the export.
func Restore(ctx context.Context, r io.Reader, backend store.Backend) (int, error) {
	dec := json.NewDecoder(r)
	n := 0
	for {
		var doc store.Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("decoding line %d: %w", n+1, err)
		}
		op := store.OpPut
		if doc.Deleted {
			op = store.OpDelete
		}
		if err := backend.Append(ctx, store.Record{Op: op, Document: doc, At: doc.CreatedAt}); err != nil {
			return n, fmt.Errorf("restoring %s v%d: %w", doc.ID, doc.Version, err)
		}
		n++
	}
}

// Uploader is satisfied by *manager.Uploader.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 uploads exports under a bucket prefix.
type S3 struct {
	uploader Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// NewS3 builds an uploader from the default AWS credential chain. A custom
// endpoint (MinIO, localstack) switches to path-style addressing.
func NewS3(ctx context.Context, cfg config.BackupConfig) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup bucket is not configured")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3WithUploader(manager.NewUploader(client), cfg.Bucket, cfg.Prefix), nil
}

func NewS3WithUploader(u Uploader, bucket, prefix string) *S3 {
	return &S3{
		uploader: u,
		bucket:   bucket,
		prefix:   prefix,
		logger:   slog.Default().With("component", "backup", "bucket", bucket),
	}
}

// Key names the object for an export taken at t.
func (b *S3) Key(t time.Time) string {
	return path.Join(b.prefix, "notes-"+t.UTC().Format("20060102T150405Z")+".jsonl")
}

// Upload streams an export of st to S3 and returns the object key and the
// number of versions written.
func (b *S3) Upload(ctx context.Context, st *store.Store, at time.Time) (string, int, error) {
	key := b.Key(at)
	pr, pw := io.Pipe()
	written := make(chan int, 1)
	go func() {
		n, err := Export(ctx, st, pw)
		written <- n
		pw.CloseWithError(err)
	}()

	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        pr,
		ContentType: aws.String(contentType),
	})
	pr.CloseWithError(err)
	n := <-written
	if err != nil {
		return "", 0, fmt.Errorf("uploading s3://%s/%s: %w", b.bucket, key, err)
	}
	b.logger.Info("backup uploaded", "key", key, "versions", n)
	return key, n, nil
}
