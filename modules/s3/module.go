package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client is used for every transfer. http.DefaultClient when nil.
	Client *http.Client
}

// Input defines the properties of the s3 runner. Transfers go through
// pre-signed URLs, so no credentials are involved.
type Input struct {
	Action     string `filter:"action"`
	SourcePath string `filter:"source_path,optional"`
	UploadURL  string `filter:"upload_url,optional"`
	SourceURL  string `filter:"source_url,optional"`
	TargetPath string `filter:"target_path,optional"`
}

func upload(ctx context.Context, client *http.Client, input *Input) error {
	logger := ctxlog.FromContext(ctx).With("action", "upload")
	if input.SourcePath == "" || input.UploadURL == "" {
		return fmt.Errorf("s3 upload needs source_path and upload_url")
	}

	file, err := os.Open(input.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file '%s': %w", input.SourcePath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file stats for '%s': %w", input.SourcePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, input.UploadURL, file)
	if err != nil {
		return fmt.Errorf("failed to create S3 upload request: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(input.SourcePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = stat.Size()

	logger.Info("Uploading file to S3", "source", input.SourcePath, "size", stat.Size(), "contentType", contentType)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute S3 upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("S3 upload failed with status: %s", resp.Status)
	}
	logger.Info("Successfully uploaded file", "status", resp.Status)
	return nil
}

// download writes to a temporary file first so that a failed transfer never
// leaves a truncated target behind.
func download(ctx context.Context, client *http.Client, input *Input) error {
	logger := ctxlog.FromContext(ctx).With("action", "download")
	if input.SourceURL == "" || input.TargetPath == "" {
		return fmt.Errorf("s3 download needs source_url and target_path")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create S3 download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute S3 download request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("S3 download failed with status: %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(input.TargetPath), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(input.TargetPath), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write '%s': %w", input.TargetPath, err)
	}
	if err := os.Rename(tmp.Name(), input.TargetPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	logger.Info("Successfully downloaded file", "target", input.TargetPath, "size", n)
	return nil
}

// Handler returns the 's3' runner bound to client.
func Handler(client *http.Client) registry.Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, in *registry.Input) error {
		var input Input
		if err := in.Decode(ctx, &input); err != nil {
			return err
		}
		switch strings.ToLower(input.Action) {
		case "upload":
			return upload(ctx, client, &input)
		case "download":
			return download(ctx, client, &input)
		default:
			return fmt.Errorf("unknown s3 action: '%s'", input.Action)
		}
	}
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("s3", Handler(m.Client))
}
