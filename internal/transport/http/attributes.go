package httptransport

import (
	"net/http"

	"aegis/internal/authz/models"
	dErrors "aegis/pkg/domain-errors"
)

// Trusted headers set by the upstream gateway after it verified the caller.
const (
	HeaderUserID       = "X-User-ID"
	HeaderOrgID        = "X-Org-ID"
	HeaderTerritory    = "X-Territory"
	HeaderScopes       = "X-Scopes"
	HeaderContactRoles = "X-Contact-Roles"
	HeaderRoles        = "X-Roles"
)

// AttributesFromRequest builds the caller's SecurityAttributes from the
// trusted headers. Set-valued headers are comma separated.
func AttributesFromRequest(r *http.Request) (models.SecurityAttributes, error) {
	attrs := models.NewSecurityAttributes(
		r.Header.Get(HeaderUserID),
		r.Header.Get(HeaderOrgID),
		r.Header.Get(HeaderTerritory),
		models.SplitSet(r.Header.Get(HeaderScopes)),
		models.SplitSet(r.Header.Get(HeaderContactRoles)),
		models.SplitSet(r.Header.Get(HeaderRoles)),
	)
	if attrs.UserID == "" {
		return models.SecurityAttributes{}, dErrors.New(dErrors.CodeUnauthorized, "caller identity missing")
	}
	return attrs, nil
}
