/*
auth.go - Caller identity resolution

PURPOSE:
  Buyer-facing endpoints act on behalf of an authenticated account. The
  surrounding platform terminates the session; this service only needs
  the resolved account id. AccountResolver abstracts how that id
  arrives so the core never parses tokens.

DEFAULT: HeaderResolver
  Reads the account id from the X-Account-ID header, trusting the
  upstream gateway to have set it. Deployments without a trusted
  gateway must supply a stricter resolver.

NOT COVERED:
  The confirmation callback (complete-purchase) carries no session and
  bypasses this entirely; it is authenticated by payment.Verifier
  against the raw body instead.

SEE ALSO:
  - handlers.go: requireAccount, the only caller
  - payment/verify.go: callback verification
*/
package api

import (
	"errors"
	"net/http"

	"github.com/learnxtrade/credit-engine/ledger"
)

// AccountHeader is the header HeaderResolver reads.
const AccountHeader = "X-Account-ID"

// ErrUnauthenticated is returned when no account can be resolved.
var ErrUnauthenticated = errors.New("no authenticated account")

// AccountResolver extracts the acting account from a request.
type AccountResolver interface {
	Resolve(r *http.Request) (ledger.AccountID, error)
}

// HeaderResolver trusts an upstream gateway to set the account header.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (ledger.AccountID, error) {
	id := r.Header.Get(AccountHeader)
	if id == "" {
		return "", ErrUnauthenticated
	}
	return ledger.AccountID(id), nil
}
