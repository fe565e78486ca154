package provider

import (
	"strings"

	"github.com/tutu-network/reelq/internal/domain"
)

// ─── Request Mapping ────────────────────────────────────────────────────────

// CreateTaskRequest is the body of POST /jobs/createTask.
type CreateTaskRequest struct {
	Model       string          `json:"model"`
	Input       CreateTaskInput `json:"input"`
	CallBackURL string          `json:"callBackUrl"`
}

// CreateTaskInput carries the generation parameters.
type CreateTaskInput struct {
	Prompt          string   `json:"prompt"`
	AspectRatio     string   `json:"aspect_ratio"`
	NFrames         string   `json:"n_frames,omitempty"`
	RemoveWatermark *bool    `json:"remove_watermark,omitempty"`
	Size            string   `json:"size,omitempty"`
	ImageURLs       []string `json:"image_urls,omitempty"`
}

// RequestBuilder maps a payload to the provider's request vocabulary.
type RequestBuilder interface {
	ResolveModel(p domain.Payload) string
	Build(p domain.Payload) CreateTaskRequest
}

// KieRequestBuilder implements the kie.ai mapping.
//
// Sora models get a -text-to-video or -image-to-video suffix and use n_frames,
// remove_watermark and (pro only) size. Other models accept a start and an end image.
type KieRequestBuilder struct{}

const (
	defaultFrames = "10"
	defaultSize   = "standard"
)

// IsSora reports whether model belongs to the sora family.
func IsSora(model string) bool {
	return strings.HasPrefix(model, "sora")
}

// ResolveModel returns the model name sent to the provider.
func (KieRequestBuilder) ResolveModel(p domain.Payload) string {
	model := p.Settings.Model
	if !IsSora(model) {
		return model
	}
	if strings.Contains(model, "text-to-video") || strings.Contains(model, "image-to-video") {
		return model
	}
	if p.StartImage != "" {
		return model + "-image-to-video"
	}
	return model + "-text-to-video"
}

// Build returns the createTask body for p.
func (b KieRequestBuilder) Build(p domain.Payload) CreateTaskRequest {
	s := p.Settings
	in := CreateTaskInput{
		Prompt:      p.Prompt,
		AspectRatio: "portrait",
	}
	switch strings.ToLower(strings.TrimSpace(s.AspectRatio)) {
	case "16:9", "landscape":
		in.AspectRatio = "landscape"
	}

	if IsSora(s.Model) {
		in.NFrames = s.Duration
		if in.NFrames == "" {
			in.NFrames = defaultFrames
		}
		removeWatermark := true
		if s.RemoveWatermark != nil {
			removeWatermark = *s.RemoveWatermark
		}
		in.RemoveWatermark = &removeWatermark
		if strings.Contains(s.Model, "pro") {
			in.Size = s.Size
			if in.Size == "" {
				in.Size = defaultSize
			}
		}
		if p.StartImage != "" {
			in.ImageURLs = []string{p.StartImage}
		}
	} else {
		if p.StartImage != "" {
			in.ImageURLs = append(in.ImageURLs, p.StartImage)
		}
		if p.EndImage != "" {
			in.ImageURLs = append(in.ImageURLs, p.EndImage)
		}
	}

	return CreateTaskRequest{
		Model:       b.ResolveModel(p),
		Input:       in,
		CallBackURL: "",
	}
}
