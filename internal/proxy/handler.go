package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/flow"
	"github.com/omarluq/flow-relay/internal/generation"
)

// Generator is the generation core as seen by the HTTP layer.
type Generator interface {
	Generate(ctx context.Context, req *generation.Request) (*generation.Result, error)
	CheckVideoStatus(ctx context.Context, req *generation.StatusRequest) ([]flow.Operation, error)
}

// ImageInput is one input image in a generation request.
type ImageInput struct {
	MediaID  string `json:"media_id,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// GenerateRequest is the client body of both generation endpoints.
type GenerateRequest struct {
	Seed        *int         `json:"seed,omitempty"`
	Model       string       `json:"model"`
	Prompt      string       `json:"prompt"`
	AspectRatio string       `json:"aspect_ratio,omitempty"`
	Account     string       `json:"account,omitempty"`
	Images      []ImageInput `json:"images,omitempty"`
}

// StatusRequest is the body of a video status poll.
type StatusRequest struct {
	Account    string           `json:"account,omitempty"`
	Operations []flow.Operation `json:"operations"`
}

// StatusResponse lists the polled operations.
type StatusResponse struct {
	Operations []flow.Operation `json:"operations"`
	Done       bool             `json:"done"`
}

// ModelsResponse lists the model catalog.
type ModelsResponse struct {
	Object string       `json:"object"`
	Data   []flow.Model `json:"data"`
}

// Handler serves the client-facing generation API.
type Handler struct {
	generator Generator
}

// NewHandler creates a Handler backed by generator.
func NewHandler(generator Generator) *Handler {
	return &Handler{generator: generator}
}

// Images handles POST /v1/images/generations.
func (h *Handler) Images(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, flow.KindImage)
}

// Videos handles POST /v1/videos/generations.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, flow.KindVideo)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request, kind flow.MediaKind) {
	var body GenerateRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}

	if model, ok := flow.LookupModel(body.Model); ok && model.Kind != kind {
		WriteError(w, r, apperr.New(apperr.KindInvalidRequest, "model %q generates %s, not %s", body.Model, model.Kind, kind))
		return
	}

	req, err := body.toGeneration()
	if err != nil {
		WriteError(w, r, err)
		return
	}

	logger := zerolog.Ctx(r.Context())
	logger.Debug().Str("model", req.Model).Int("images", len(req.Images)).Msg("generation requested")

	res, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		if attempts := apperr.AttemptsOf(err); attempts > 0 {
			w.Header().Set(HeaderRelayAttempts, strconv.Itoa(attempts))
		}
		WriteError(w, r, err)
		return
	}

	w.Header().Set(HeaderRelayAccount, res.Email)
	w.Header().Set(HeaderRelayAttempts, strconv.Itoa(res.Attempts))
	writeJSON(w, http.StatusOK, res)
}

func (g *GenerateRequest) toGeneration() (*generation.Request, error) {
	req := &generation.Request{
		Model:       g.Model,
		Prompt:      g.Prompt,
		AspectRatio: g.AspectRatio,
		Account:     g.Account,
		Seed:        lo.FromPtr(g.Seed),
		Images:      make([]generation.Image, 0, len(g.Images)),
	}
	for i, in := range g.Images {
		img := generation.Image{MediaID: in.MediaID, MimeType: in.MimeType}
		if in.Data != "" {
			data, err := base64.StdEncoding.DecodeString(in.Data)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindInvalidRequest, err, "image %d: data is not valid base64", i)
			}
			img.Data = data
		}
		req.Images = append(req.Images, img)
	}
	return req, nil
}

// VideoStatus handles POST /v1/videos/status.
func (h *Handler) VideoStatus(w http.ResponseWriter, r *http.Request) {
	var body StatusRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}

	ops, err := h.generator.CheckVideoStatus(r.Context(), &generation.StatusRequest{
		Account:    body.Account,
		Operations: body.Operations,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Operations: ops,
		Done:       lo.EveryBy(ops, func(op flow.Operation) bool { return op.Done() }),
	})
}

// Models handles GET /v1/models.
func (h *Handler) Models(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{Object: "list", Data: flow.Models()})
}

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON decodes the request body into dst. Oversized bodies keep their
// *http.MaxBytesError so WriteError can answer 413.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperr.New(apperr.KindInvalidRequest, "request body is required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if IsBodyTooLargeError(err) {
			return err
		}
		return apperr.Wrap(apperr.KindInvalidRequest, err, "invalid JSON body")
	}
	return nil
}
