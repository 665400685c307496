package flow

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/omarluq/flow-relay/internal/apperr"
)

// Operation states reported by the status endpoint.
const (
	StatusPending    = "MEDIA_GENERATION_STATUS_PENDING"
	StatusActive     = "MEDIA_GENERATION_STATUS_ACTIVE"
	StatusSuccessful = "MEDIA_GENERATION_STATUS_SUCCESSFUL"
	StatusFailed     = "MEDIA_GENERATION_STATUS_FAILED"
)

const maxSeed = 99999

// Request is one generation call against an already-prepared account: the
// project exists and every input image is uploaded.
type Request struct {
	Model       Model
	Prompt      string
	AspectRatio string
	MediaIDs    []string
	Seed        int
}

// Media is one finished image.
type Media struct {
	URL     string `json:"url"`
	MediaID string `json:"media_id"`
	Seed    int64  `json:"seed,omitempty"`
}

// Operation is one asynchronous video job.
type Operation struct {
	Name    string `json:"name"`
	SceneID string `json:"scene_id,omitempty"`
	Status  string `json:"status"`
	MediaID string `json:"media_id,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Done reports whether the operation reached a terminal state.
func (o *Operation) Done() bool {
	return o.Status == StatusSuccessful || o.Status == StatusFailed
}

// Result is the parsed outcome of a generation call.
type Result struct {
	Kind             MediaKind   `json:"kind"`
	Media            []Media     `json:"media,omitempty"`
	Operations       []Operation `json:"operations,omitempty"`
	RemainingCredits int64       `json:"remaining_credits,omitempty"`
}

// Generate mints a captcha token in the account's browser context and
// submits the request. An empty captcha token is a captcha rejection; the
// upstream is not called.
func (c *Client) Generate(ctx context.Context, creds *Credentials, req *Request) (*Result, error) {
	if creds.ProjectID == "" {
		return nil, apperr.New(apperr.KindInternal, "generate: account has no project").WithAccount(creds.AccountID)
	}

	captcha, err := c.captchaToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	seed := req.Seed
	if seed <= 0 {
		seed = rand.IntN(maxSeed) + 1 //nolint:gosec // upstream seed, not security
	}

	if req.Model.Kind == KindVideo {
		return c.generateVideo(ctx, creds, req, captcha, seed)
	}
	return c.generateImage(ctx, creds, req, captcha, seed)
}

func (c *Client) captchaToken(ctx context.Context, creds *Credentials) (string, error) {
	if c.captcha == nil {
		return "", apperr.New(apperr.KindUnavailable, "generate: no captcha source configured")
	}
	token, err := c.captcha.AcquireCaptchaToken(ctx, creds.AccountID, creds.ProjectID)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return "", err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.Wrap(apperr.KindTransient, err, "generate: captcha")
		}
		return "", apperr.Wrap(apperr.KindUnavailable, err, "generate: captcha").WithAccount(creds.AccountID)
	}
	if strings.TrimSpace(token) == "" {
		return "", apperr.New(apperr.KindCaptchaRejected, "generate: browser returned no captcha token").WithAccount(creds.AccountID)
	}
	return token, nil
}

func (c *Client) generateImage(ctx context.Context, creds *Credentials, req *Request, captcha string, seed int) (*Result, error) {
	sessionID := newSessionID(c.now())
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = req.Model.AspectRatio
	}

	p := newPayload().
		set("clientContext.recaptchaToken", captcha).
		set("clientContext.sessionId", sessionID).
		set("requests.0.clientContext.recaptchaToken", captcha).
		set("requests.0.clientContext.projectId", creds.ProjectID).
		set("requests.0.clientContext.sessionId", sessionID).
		set("requests.0.clientContext.tool", "PINHOLE").
		set("requests.0.seed", seed).
		set("requests.0.imageModelName", req.Model.UpstreamKey).
		set("requests.0.imageAspectRatio", aspect).
		set("requests.0.prompt", req.Prompt).
		setRaw("requests.0.imageInputs", []byte(`[]`))
	for i, id := range req.MediaIDs {
		p.set(indexPath("requests.0.imageInputs", i, "name"), id).
			set(indexPath("requests.0.imageInputs", i, "imageInputType"), "IMAGE_INPUT_TYPE_REFERENCE")
	}
	body, err := p.bytes()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "generate image: encode body")
	}

	res, err := c.do(ctx, &request{
		method:    http.MethodPost,
		url:       c.apiURL("/projects/" + url.PathEscape(creds.ProjectID) + "/flowMedia:batchGenerateImages"),
		op:        "generate image",
		body:      body,
		token:     creds.Token,
		userAgent: UserAgentFor(creds.userAgentKey()),
		timeout:   c.cfg.GetImageTimeout(),
		accountID: creds.AccountID,
	})
	if err != nil {
		return nil, err
	}

	out := &Result{Kind: KindImage}
	res.Get("media").ForEach(func(_, m gjson.Result) bool {
		img := m.Get("image.generatedImage")
		if u := img.Get("fifeUrl").String(); u != "" {
			out.Media = append(out.Media, Media{
				URL:     u,
				MediaID: img.Get("mediaGenerationId").String(),
				Seed:    img.Get("seed").Int(),
			})
		}
		return true
	})
	if len(out.Media) == 0 {
		return nil, apperr.New(apperr.KindUpstream, "generate image: response has no images").WithAccount(creds.AccountID)
	}
	return out, nil
}

func (c *Client) generateVideo(ctx context.Context, creds *Credentials, req *Request, captcha string, seed int) (*Result, error) {
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = req.Model.AspectRatio
	}
	tier := creds.PaygateTier
	if tier == "" {
		tier = c.cfg.GetPaygateTier()
	}

	p := newPayload().
		set("clientContext.recaptchaToken", captcha).
		set("clientContext.sessionId", newSessionID(c.now())).
		set("clientContext.projectId", creds.ProjectID).
		set("clientContext.tool", "PINHOLE").
		set("clientContext.userPaygateTier", tier).
		set("requests.0.aspectRatio", aspect).
		set("requests.0.seed", seed).
		set("requests.0.textInput.prompt", req.Prompt).
		set("requests.0.videoModelKey", req.Model.UpstreamKey).
		set("requests.0.metadata.sceneId", uuid.NewString())
	for i, usage := range videoInputUsages(req.Model.Inputs, len(req.MediaIDs)) {
		p.set(indexPath("requests.0.videoInputs", i, "imageUsageType"), usage).
			set(indexPath("requests.0.videoInputs", i, "mediaId"), req.MediaIDs[i])
	}
	body, err := p.bytes()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "generate video: encode body")
	}

	res, err := c.do(ctx, &request{
		method:    http.MethodPost,
		url:       c.apiURL("/video:batchAsyncGenerateVideoText"),
		op:        "generate video",
		body:      body,
		token:     creds.Token,
		userAgent: UserAgentFor(creds.userAgentKey()),
		timeout:   c.cfg.GetVideoTimeout(),
		accountID: creds.AccountID,
	})
	if err != nil {
		return nil, err
	}

	out := &Result{
		Kind:             KindVideo,
		Operations:       parseOperations(res),
		RemainingCredits: res.Get("remainingCredits").Int(),
	}
	if len(out.Operations) == 0 {
		return nil, apperr.New(apperr.KindUpstream, "generate video: response has no operations").WithAccount(creds.AccountID)
	}
	return out, nil
}

// CheckVideoStatus polls the given operations.
func (c *Client) CheckVideoStatus(ctx context.Context, creds *Credentials, ops []Operation) ([]Operation, error) {
	if len(ops) == 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "check video status: no operations")
	}
	p := newPayload().setRaw("operations", []byte(`[]`))
	for i := range ops {
		p.set(indexPath("operations", i, "operation.name"), ops[i].Name)
		if ops[i].SceneID != "" {
			p.set(indexPath("operations", i, "sceneId"), ops[i].SceneID)
		}
		if ops[i].Status != "" {
			p.set(indexPath("operations", i, "status"), ops[i].Status)
		}
	}
	body, err := p.bytes()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "check video status: encode body")
	}

	res, err := c.do(ctx, &request{
		method:    http.MethodPost,
		url:       c.apiURL("/video:batchCheckAsyncVideoGenerationStatus"),
		op:        "check video status",
		body:      body,
		token:     creds.Token,
		userAgent: UserAgentFor(creds.userAgentKey()),
		timeout:   c.cfg.GetVideoTimeout(),
		accountID: creds.AccountID,
	})
	if err != nil {
		return nil, err
	}
	return parseOperations(res), nil
}

func parseOperations(res gjson.Result) []Operation {
	var ops []Operation
	res.Get("operations").ForEach(func(_, o gjson.Result) bool {
		name := o.Get("operation.name").String()
		if name == "" {
			return true
		}
		video := o.Get("operation.metadata.video")
		ops = append(ops, Operation{
			Name:    name,
			SceneID: o.Get("sceneId").String(),
			Status:  o.Get("status").String(),
			URL:     video.Get("fifeUrl").String(),
			MediaID: firstNonEmpty(video.Get("mediaGenerationId").String(), o.Get("mediaGenerationId").String()),
		})
		return true
	})
	return ops
}

// videoInputUsages returns the usage type of each uploaded input.
func videoInputUsages(mode InputMode, n int) []string {
	if mode == InputNone {
		return nil
	}
	usages := make([]string, 0, n)
	for i := range n {
		switch {
		case mode == InputReferences:
			usages = append(usages, "IMAGE_USAGE_TYPE_ASSET")
		case i == 0:
			usages = append(usages, "IMAGE_USAGE_TYPE_START_IMAGE")
		default:
			usages = append(usages, "IMAGE_USAGE_TYPE_END_IMAGE")
		}
	}
	return usages
}

func indexPath(prefix string, i int, field string) string {
	return prefix + "." + strconv.Itoa(i) + "." + field
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
