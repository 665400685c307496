package flow

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/omarluq/flow-relay/internal/apperr"
)

// DefaultImageMIME is assumed for uploads that do not name a type.
const DefaultImageMIME = "image/jpeg"

// UploadImage uploads raw image bytes and returns the media id the
// generation endpoints accept as an input.
func (c *Client) UploadImage(ctx context.Context, creds *Credentials, data []byte, mimeType, aspect string) (string, error) {
	if len(data) == 0 {
		return "", apperr.New(apperr.KindInvalidRequest, "upload image: empty image")
	}
	if mimeType == "" {
		mimeType = DefaultImageMIME
	}

	body, err := newPayload().
		set("imageInput.rawImageBytes", base64.StdEncoding.EncodeToString(data)).
		set("imageInput.mimeType", mimeType).
		set("imageInput.isUserUploaded", true).
		set("imageInput.aspectRatio", imageAspect(aspect)).
		set("clientContext.sessionId", newSessionID(c.now())).
		set("clientContext.tool", "ASSET_MANAGER").
		bytes()
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "upload image: encode body")
	}

	res, err := c.do(ctx, &request{
		method:    http.MethodPost,
		url:       c.cfg.GetAPIBaseURL() + ":uploadUserImage",
		op:        "upload image",
		body:      body,
		token:     creds.Token,
		userAgent: UserAgentFor(creds.userAgentKey()),
		timeout:   c.cfg.GetImageTimeout(),
		accountID: creds.AccountID,
	})
	if err != nil {
		return "", err
	}

	id := res.Get("mediaGenerationId.mediaGenerationId").String()
	if id == "" {
		return "", apperr.New(apperr.KindUpstream, "upload image: response has no media id").WithAccount(creds.AccountID)
	}
	return id, nil
}
