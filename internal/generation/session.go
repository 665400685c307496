package generation

import (
	"context"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/flow"
)

// session is one request's view of the account it holds a slot on.
type session struct {
	o         *Orchestrator
	account   account.Account
	refreshed bool
}

func (s *session) creds() *flow.Credentials {
	c := flow.CredentialsFor(&s.account)
	return &c
}

// prepare makes sure the account has a usable access token and a project.
func (s *session) prepare(ctx context.Context) error {
	a, err := s.o.accounts.EnsureAccessToken(ctx, s.account.ID)
	if err != nil {
		return err
	}
	s.account = a

	project, err := s.o.ensureProject(ctx, &s.account)
	if err != nil {
		return err
	}
	s.account.ProjectID = project
	return nil
}

// withAuth runs fn and, the first time per request that the upstream
// reports the access token expired, re-derives it and runs fn again.
// That re-run does not count as a generation attempt. An expired token
// reported after the refresh means the session token no longer works.
func (s *session) withAuth(ctx context.Context, fn func(creds *flow.Credentials) error) error {
	err := fn(s.creds())
	if !apperr.IsKind(err, apperr.KindAuthExpired) {
		return err
	}
	if s.refreshed {
		return s.rejected(err)
	}
	s.refreshed = true

	a, rerr := s.o.accounts.RefreshAccessToken(ctx, s.account.ID)
	if rerr != nil {
		return rerr
	}
	project := s.account.ProjectID
	s.account = a
	s.account.ProjectID = project

	if err = fn(s.creds()); apperr.IsKind(err, apperr.KindAuthExpired) {
		return s.rejected(err)
	}
	return err
}

func (s *session) rejected(err error) error {
	return apperr.Wrap(apperr.KindCredential, err, "access token rejected after refresh").WithAccount(s.account.ID)
}

// upload turns every input into a media id, uploading inline bytes.
func (s *session) upload(ctx context.Context, images []Image, aspect string) ([]string, error) {
	ids := make([]string, 0, len(images))
	for i := range images {
		img := &images[i]
		if img.MediaID != "" {
			ids = append(ids, img.MediaID)
			continue
		}
		var id string
		err := s.withAuth(ctx, func(creds *flow.Credentials) error {
			var uerr error
			id, uerr = s.o.upstream.UploadImage(ctx, creds, img.Data, img.MimeType, aspect)
			return uerr
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ensureProject returns the account's project id, creating and recording
// one when the account has none. Concurrent callers for the same account
// share one creation.
func (o *Orchestrator) ensureProject(ctx context.Context, a *account.Account) (string, error) {
	if a.ProjectID != "" {
		return a.ProjectID, nil
	}

	key := accountKey(a.ID)
	cached, err := o.projects.Get(ctx, key)
	if err != nil {
		o.log.Debug().Err(err).Int64("account_id", a.ID).Msg("project cache read failed")
	}
	if id, ok := cached.Get(); ok {
		return id, nil
	}

	v, err, _ := o.creating.Do(key, func() (any, error) {
		// A concurrent request may have recorded one already.
		if fresh, gerr := o.accounts.GetToken(a.ID); gerr == nil && fresh.ProjectID != "" {
			return fresh.ProjectID, nil
		}

		creds := flow.CredentialsFor(a)
		id, cerr := o.upstream.CreateProject(ctx, &creds, o.cfg.ProjectTitle)
		if cerr != nil {
			return "", cerr
		}
		if serr := o.accounts.SetProject(ctx, a.ID, id); serr != nil {
			o.log.Warn().Err(serr).Int64("account_id", a.ID).Msg("failed to record project")
		}
		if serr := o.projects.Set(ctx, key, id); serr != nil {
			o.log.Debug().Err(serr).Msg("project cache write failed")
		}
		o.log.Info().Int64("account_id", a.ID).Str("project_id", id).Msg("project created")
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
