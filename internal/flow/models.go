package flow

import (
	"sort"
	"strings"

	"github.com/omarluq/flow-relay/internal/apperr"
)

// MediaKind distinguishes image and video generation.
type MediaKind string

// Media kinds.
const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// InputMode is how a model consumes reference images.
type InputMode string

// Input modes.
const (
	InputNone       InputMode = "none"
	InputOptional   InputMode = "optional"
	InputFrames     InputMode = "frames"
	InputReferences InputMode = "references"
)

// Aspect ratios understood upstream.
const (
	ImageLandscape = "IMAGE_ASPECT_RATIO_LANDSCAPE"
	ImagePortrait  = "IMAGE_ASPECT_RATIO_PORTRAIT"
	ImageSquare    = "IMAGE_ASPECT_RATIO_SQUARE"
	VideoLandscape = "VIDEO_ASPECT_RATIO_LANDSCAPE"
	VideoPortrait  = "VIDEO_ASPECT_RATIO_PORTRAIT"
)

// Model maps a public model name to its upstream parameters.
type Model struct {
	Name        string    `json:"id"`
	Kind        MediaKind `json:"kind"`
	UpstreamKey string    `json:"upstream_key"`
	AspectRatio string    `json:"aspect_ratio"`
	Inputs      InputMode `json:"inputs"`
	MinImages   int       `json:"min_images"`
	MaxImages   int       `json:"max_images"`
}

var catalog = map[string]Model{}

func register(models ...Model) {
	for _, m := range models {
		catalog[m.Name] = m
	}
}

func init() {
	register(
		Model{Name: "gemini-2.5-flash-image-landscape", Kind: KindImage, UpstreamKey: "GEM_PIX", AspectRatio: ImageLandscape, Inputs: InputOptional, MaxImages: 4},
		Model{Name: "gemini-2.5-flash-image-portrait", Kind: KindImage, UpstreamKey: "GEM_PIX", AspectRatio: ImagePortrait, Inputs: InputOptional, MaxImages: 4},
		Model{Name: "imagen-4.0-generate-preview-landscape", Kind: KindImage, UpstreamKey: "IMAGEN_3_5", AspectRatio: ImageLandscape, Inputs: InputNone},
		Model{Name: "imagen-4.0-generate-preview-portrait", Kind: KindImage, UpstreamKey: "IMAGEN_3_5", AspectRatio: ImagePortrait, Inputs: InputNone},
		Model{Name: "veo_3_1_t2v_fast_landscape", Kind: KindVideo, UpstreamKey: "veo_3_1_t2v_fast", AspectRatio: VideoLandscape, Inputs: InputNone},
		Model{Name: "veo_3_1_t2v_fast_portrait", Kind: KindVideo, UpstreamKey: "veo_3_1_t2v_fast_portrait", AspectRatio: VideoPortrait, Inputs: InputNone},
		Model{Name: "veo_3_1_i2v_s_fast_fl_landscape", Kind: KindVideo, UpstreamKey: "veo_3_1_i2v_s_fast_fl", AspectRatio: VideoLandscape, Inputs: InputFrames, MinImages: 1, MaxImages: 2},
		Model{Name: "veo_3_1_i2v_s_fast_fl_portrait", Kind: KindVideo, UpstreamKey: "veo_3_1_i2v_s_fast_portrait_fl", AspectRatio: VideoPortrait, Inputs: InputFrames, MinImages: 1, MaxImages: 2},
		Model{Name: "veo_2_1_fast_d_15_r2v_landscape", Kind: KindVideo, UpstreamKey: "veo_2_1_fast_d_15_r2v", AspectRatio: VideoLandscape, Inputs: InputReferences, MinImages: 1, MaxImages: 3},
	)
}

// LookupModel returns the catalog entry for name.
func LookupModel(name string) (Model, bool) {
	m, ok := catalog[strings.TrimSpace(name)]
	return m, ok
}

// Models returns the catalog sorted by name.
func Models() []Model {
	out := make([]Model, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// imageAspect converts a video aspect ratio to its image counterpart, as
// uploads are always images.
func imageAspect(aspect string) string {
	if rest, ok := strings.CutPrefix(aspect, "VIDEO_"); ok {
		return "IMAGE_" + rest
	}
	if aspect == "" {
		return ImageLandscape
	}
	return aspect
}

// ValidateInputs checks the number of input images against the model.
func (m *Model) ValidateInputs(n int) error {
	switch {
	case m.Inputs == InputNone && n > 0:
		return apperr.New(apperr.KindInvalidRequest, "model %s does not accept input images", m.Name)
	case n < m.MinImages:
		return apperr.New(apperr.KindInvalidRequest, "model %s needs at least %d input image(s)", m.Name, m.MinImages)
	case m.MaxImages > 0 && n > m.MaxImages:
		return apperr.New(apperr.KindInvalidRequest, "model %s accepts at most %d input image(s)", m.Name, m.MaxImages)
	}
	return nil
}

// ResolveAspect maps a short aspect name (landscape, portrait, square) or a
// full upstream value to the upstream value for this model. Empty selects
// the model default.
func (m *Model) ResolveAspect(aspect string) (string, error) {
	aspect = strings.TrimSpace(aspect)
	if aspect == "" {
		return m.AspectRatio, nil
	}
	prefix := "IMAGE_ASPECT_RATIO_"
	if m.Kind == KindVideo {
		prefix = "VIDEO_ASPECT_RATIO_"
	}
	full := strings.ToUpper(aspect)
	if !strings.HasPrefix(full, prefix) {
		full = prefix + full
	}
	switch full {
	case ImageLandscape, ImagePortrait, ImageSquare, VideoLandscape, VideoPortrait:
		return full, nil
	}
	return "", apperr.New(apperr.KindInvalidRequest, "aspect ratio %q is not supported by %s", aspect, m.Name)
}
