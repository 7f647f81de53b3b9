package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// ObjectURI returns the gs:// URI of an object.
func ObjectURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// DownloadObject streams a GCS object to destPath.
func DownloadObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	gcsReader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for %s: %w", ObjectURI(bucket, object), err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

// GCSObjects reads source documents and writes outputs to one output bucket.
type GCSObjects struct {
	client       *storage.Client
	outputBucket string
}

// NewGCSObjects returns an object store writing to outputBucket.
func NewGCSObjects(client *storage.Client, outputBucket string) *GCSObjects {
	return &GCSObjects{client: client, outputBucket: outputBucket}
}

// Download copies bucket/object to destPath.
func (g *GCSObjects) Download(ctx context.Context, bucket, object, destPath string) error {
	return DownloadObject(ctx, g.client, bucket, object, destPath)
}

// UploadDirectory publishes localDir under prefix in the output bucket.
func (g *GCSObjects) UploadDirectory(ctx context.Context, localDir, prefix string) ([]string, error) {
	return UploadDirectory(ctx, g.client.Bucket(g.outputBucket), localDir, prefix)
}

// DeletePrefix removes everything under prefix in the output bucket.
func (g *GCSObjects) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return DeletePrefix(ctx, g.client.Bucket(g.outputBucket), prefix)
}

// SaveToGCSAtomically writes r to a GCS object only if it doesn't already exist.
// It reports whether the object was written; an existing object is not an error.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, r io.Reader) (bool, error) {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentTypeOf(objectName)

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return false, nil
		}
		return false, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return false, nil
		}
		return false, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return true, nil
}

// UploadDirectory copies every file under localDir to bucket/prefix/<relative
// path>, ten uploads at a time. It returns the object names written.
func UploadDirectory(ctx context.Context, bucket *storage.BucketHandle, localDir, prefix string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", localDir, err)
	}

	objects := make([]string, len(files))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)
	for i, localPath := range files {
		rel, err := filepath.Rel(localDir, localPath)
		if err != nil {
			return nil, err
		}
		objectName := ObjectName(prefix, rel)
		objects[i] = objectName

		eg.Go(func() error {
			if err := uploadFile(gctx, bucket, localPath, objectName); err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return objects, nil
}

// ObjectName joins prefix and a local relative path with forward slashes.
func ObjectName(prefix, rel string) string {
	return path.Join(prefix, filepath.ToSlash(rel))
}

func uploadFile(ctx context.Context, bucket *storage.BucketHandle, localPath, objectName string) error {
	const maxRetries = 4
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := func() error {
			f, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("could not open local file %s: %w", localPath, err)
			}
			defer f.Close()

			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()
			_, err = SaveToGCSAtomically(writeCtx, bucket, objectName, f)
			return err
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("Upload failed, will retry.", "gcsObject", objectName, "attempt", i+1, "maxRetries", maxRetries, "backoff", backoff.String(), "error", err)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}

// DeletePrefix removes every object under prefix. Used to discard a partial
// upload.
func DeletePrefix(ctx context.Context, bucket *storage.BucketHandle, prefix string) (int, error) {
	it := bucket.Objects(ctx, &storage.Query{Prefix: strings.TrimSuffix(prefix, "/") + "/"})
	deleted := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return deleted, fmt.Errorf("failed to delete %s: %w", attrs.Name, err)
		}
		deleted++
	}
	return deleted, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func contentTypeOf(objectName string) string {
	if strings.EqualFold(path.Ext(objectName), ".md") {
		return "text/markdown; charset=utf-8"
	}
	if ct := mime.TypeByExtension(path.Ext(objectName)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
