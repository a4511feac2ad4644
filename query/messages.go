package query

import "strings"

const (
	TypeGetProfile      = "entitlements.query.profile.get"
	TypeCurrentIdentity = "entitlements.query.identity.current"
)

type GetProfileMessage struct {
	UserID string
}

func (GetProfileMessage) Type() string { return TypeGetProfile }

func (m GetProfileMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

type CurrentIdentityMessage struct{}

func (CurrentIdentityMessage) Type() string { return TypeCurrentIdentity }

func (CurrentIdentityMessage) Validate() error { return nil }
