package flow

import (
	"context"
	"net/http"

	"github.com/omarluq/flow-relay/internal/apperr"
)

// CreateProject creates a workspace project and returns its id.
func (c *Client) CreateProject(ctx context.Context, creds *Credentials, title string) (string, error) {
	if title == "" {
		title = c.cfg.GetProjectTitle()
	}
	body, err := newPayload().
		set("json.projectTitle", title).
		set("json.toolName", "PINHOLE").
		bytes()
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "create project: encode body")
	}

	res, err := c.do(ctx, &request{
		method:    http.MethodPost,
		url:       c.labsURL("/trpc/project.createProject"),
		op:        "create project",
		body:      body,
		cookie:    creds.SessionToken,
		userAgent: UserAgentFor(creds.userAgentKey()),
		timeout:   c.cfg.GetTimeout(),
		accountID: creds.AccountID,
	})
	if err != nil {
		return "", err
	}

	id := res.Get("result.data.json.result.projectId").String()
	if id == "" {
		return "", apperr.New(apperr.KindUpstream, "create project: response has no project id").WithAccount(creds.AccountID)
	}
	return id, nil
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, creds *Credentials, projectID string) error {
	body, err := newPayload().set("json.projectToDeleteId", projectID).bytes()
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "delete project: encode body")
	}
	_, err = c.do(ctx, &request{
		method:    http.MethodPost,
		url:       c.labsURL("/trpc/project.deleteProject"),
		op:        "delete project",
		body:      body,
		cookie:    creds.SessionToken,
		userAgent: UserAgentFor(creds.userAgentKey()),
		timeout:   c.cfg.GetTimeout(),
		accountID: creds.AccountID,
	})
	return err
}
