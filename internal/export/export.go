// Package export converts backend result locators into externally reachable
// URLs, rehosting each image in object storage when configured.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/renderfleet/comfyrelay/internal/comfy"
)

// Origin discriminates where an exported URL points.
const (
	OriginS3      = "s3_url"
	OriginBackend = "comfyui_url"
)

// ImageFetcher is the backend side of the pipeline.
type ImageFetcher interface {
	FetchImage(ctx context.Context, loc comfy.ResultLocator) ([]byte, error)
	ViewURL(loc comfy.ResultLocator) string
}

// ObjectStore is the durable storage side of the pipeline.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ExportedImage is one exported result. Never mutated after creation.
type ExportedImage struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
	NodeID   string `json:"node_id"`
}

// Exporter runs the tiered export pipeline. A nil store disables rehosting:
// every image falls through to its backend-native URL.
type Exporter struct {
	backend ImageFetcher
	store   ObjectStore
	logger  *slog.Logger
}

// New creates an exporter. store may be nil when S3 is not configured.
func New(backend ImageFetcher, store ObjectStore, logger *slog.Logger) *Exporter {
	return &Exporter{backend: backend, store: store, logger: logger}
}

// Rehosting reports whether durable storage is active for this exporter.
func (e *Exporter) Rehosting() bool { return e.store != nil }

// Export processes locators independently: each yields exactly one
// ExportedImage, rehosted when the single storage attempt for that item
// succeeds and downgraded to the backend-native URL on any failure. No
// retries; failures never abort the remaining items.
func (e *Exporter) Export(ctx context.Context, images []comfy.OutputImage) []ExportedImage {
	if e.store != nil {
		e.logger.Info("s3 configured, rehosting output images", "count", len(images))
	} else {
		e.logger.Info("s3 not configured, returning backend urls", "count", len(images))
	}

	exported := make([]ExportedImage, 0, len(images))
	for _, img := range images {
		exported = append(exported, e.exportOne(ctx, img))
	}
	return exported
}

func (e *Exporter) exportOne(ctx context.Context, img comfy.OutputImage) ExportedImage {
	if e.store == nil {
		return e.backendNative(img)
	}

	data, err := e.backend.FetchImage(ctx, img.ResultLocator)
	if err != nil {
		e.logger.Warn("image fetch failed, falling back to backend url",
			"filename", img.Filename, "error", err)
		return e.backendNative(img)
	}

	// Millisecond timestamp prefix keeps object names collision-resistant
	// across jobs writing the same filename.
	key := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), img.Filename)

	url, err := e.store.PutObject(ctx, key, data, comfy.ContentTypeFor(img.Filename))
	if err != nil {
		e.logger.Warn("s3 upload failed, falling back to backend url",
			"filename", img.Filename, "key", key, "error", err)
		return e.backendNative(img)
	}

	return ExportedImage{
		URL:      url,
		Filename: img.Filename,
		Type:     OriginS3,
		NodeID:   img.NodeID,
	}
}

func (e *Exporter) backendNative(img comfy.OutputImage) ExportedImage {
	return ExportedImage{
		URL:      e.backend.ViewURL(img.ResultLocator),
		Filename: img.Filename,
		Type:     OriginBackend,
		NodeID:   img.NodeID,
	}
}
