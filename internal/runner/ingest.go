package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// InputImage is one inline-encoded input asset from the job request.
type InputImage struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// dataURIPattern matches "data:image/<type>;base64,<payload>".
var dataURIPattern = regexp.MustCompile(`^data:image/[^;]+;base64,(.+)$`)

// decodeImageData decodes a base64 image payload, stripping a data-URI
// prefix when present.
func decodeImageData(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		if m := dataURIPattern.FindStringSubmatch(data); m != nil {
			data = m[1]
		} else if idx := strings.Index(data, ","); idx >= 0 {
			data = data[idx+1:]
		}
	}
	return base64.StdEncoding.DecodeString(data)
}

// ingestInputImages decodes and uploads inline input images to the backend.
// Ingestion is best-effort: every failure is appended to errs as a structured
// message and the remaining images are still processed.
func (r *Runner) ingestInputImages(ctx context.Context, images []InputImage, errs *[]string) {
	if len(images) == 0 {
		return
	}

	r.logger.Info("processing input images", "count", len(images))

	for i, img := range images {
		if img.Name == "" {
			*errs = append(*errs, fmt.Sprintf("image %d: missing 'name' field", i))
			continue
		}
		if img.Data == "" {
			*errs = append(*errs, fmt.Sprintf("image %d: missing 'data' field", i))
			continue
		}

		data, err := decodeImageData(img.Data)
		if err != nil {
			*errs = append(*errs, fmt.Sprintf("image %d (%s): base64 decode error - %v", i, img.Name, err))
			continue
		}

		if err := r.client.UploadImage(ctx, img.Name, data, true); err != nil {
			*errs = append(*errs, fmt.Sprintf("image %d (%s): upload failed - %v", i, img.Name, err))
		}
	}
}
