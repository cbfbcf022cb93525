// Package auth authenticates callers of the toolbridge HTTP API.
//
// A Chain asks each Authenticator in turn for a vote: Yes (identity
// found), No (credentials present but invalid) or Abstain (credentials
// not of its kind). The first non-abstaining vote wins; DefaultDecision
// applies when everyone abstains. Middleware runs the chain, stores the
// identity in the request context and scopes execution history to the
// identity's tenant. RequireScope guards individual routes.
package auth
