package testutil

import (
	"net/http"

	id "nser/pkg/domain"
	"nser/pkg/requestcontext"
)

// AsOperator attaches what the operator auth middleware would: the operator
// id and the audit actor.
func AsOperator(req *http.Request, operatorID id.OperatorID) *http.Request {
	ctx := requestcontext.WithOperatorID(req.Context(), operatorID)
	ctx = requestcontext.WithActor(ctx, "operator:"+operatorID.String())
	return req.WithContext(ctx)
}

// AsAdmin attaches an admin actor.
func AsAdmin(req *http.Request, actor string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), "admin:"+actor))
}
