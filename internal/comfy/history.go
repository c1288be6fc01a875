package comfy

import (
	"maps"
	"slices"
)

// HistoryStatus is the completion flag portion of a history record.
type HistoryStatus struct {
	Completed bool `json:"completed"`
}

// NodeOutput holds the artifacts one node produced.
type NodeOutput struct {
	Images []ResultLocator `json:"images"`
}

// History is the backend record for one prompt. It is read-only once
// completion is observed; the monitor reads it and never writes it back.
type History struct {
	Status  HistoryStatus         `json:"status"`
	Outputs map[string]NodeOutput `json:"outputs"`
}

// ResultLocator identifies one artifact inside the backend's storage
// namespace.
type ResultLocator struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// OutputImage is a locator annotated with the node that produced it.
type OutputImage struct {
	ResultLocator
	NodeID string
}

// OutputImages flattens the history outputs into one locator per image.
// Subfolder defaults to "" and type to "output" when the backend omits them.
func (h *History) OutputImages() []OutputImage {
	var images []OutputImage
	for _, nodeID := range slices.Sorted(maps.Keys(h.Outputs)) {
		for _, img := range h.Outputs[nodeID].Images {
			if img.Type == "" {
				img.Type = "output"
			}
			images = append(images, OutputImage{ResultLocator: img, NodeID: nodeID})
		}
	}
	return images
}
