package generation

import (
	"context"

	"github.com/samber/lo"

	"github.com/omarluq/flow-relay/internal/account"
	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/flow"
)

// StatusRequest polls video operations. Account is consulted only for
// operations whose owner is not cached.
type StatusRequest struct {
	Account    string
	Operations []flow.Operation
}

// CheckVideoStatus polls each operation with the credentials of the
// account that created it. Polling does not take an admission slot.
func (o *Orchestrator) CheckVideoStatus(ctx context.Context, req *StatusRequest) ([]flow.Operation, error) {
	if len(req.Operations) == 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "operations are required")
	}

	groups := make(map[int64][]flow.Operation)
	for _, op := range req.Operations {
		if op.Name == "" {
			return nil, apperr.New(apperr.KindInvalidRequest, "operation name is required")
		}
		id, err := o.operationOwner(ctx, op.Name, req.Account)
		if err != nil {
			return nil, err
		}
		groups[id] = append(groups[id], op)
	}

	out := make([]flow.Operation, 0, len(req.Operations))
	for _, id := range lo.Keys(groups) {
		a, err := o.accounts.EnsureAccessToken(ctx, id)
		if err != nil {
			return nil, err
		}
		s := &session{o: o, account: a}

		var ops []flow.Operation
		err = s.withAuth(ctx, func(creds *flow.Credentials) error {
			var cerr error
			ops, cerr = o.upstream.CheckVideoStatus(ctx, creds, groups[id])
			return cerr
		})
		if err != nil {
			return nil, o.abort(ctx, &a, err, 0)
		}
		out = append(out, ops...)
	}
	return out, nil
}

func (o *Orchestrator) operationOwner(ctx context.Context, name, hint string) (int64, error) {
	cached, err := o.operations.Get(ctx, name)
	if err != nil {
		o.log.Debug().Err(err).Str("operation", name).Msg("operation cache read failed")
	}
	if own, ok := cached.Get(); ok {
		return own.AccountID, nil
	}
	if hint == "" {
		return 0, apperr.New(apperr.KindNotFound, "unknown operation %q; pass the account that created it", name)
	}

	var a account.Account
	if a, err = o.accounts.Resolve(hint); err != nil {
		return 0, err
	}
	return a.ID, nil
}
