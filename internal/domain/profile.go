package domain

import (
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Profile is the caller identity derived from an auth provider access token.
type Profile struct {
	UserID    uuid.UUID
	Email     string
	FullName  string
	AvatarURL string
	Role      Role
}

// UserMetadata is the user-editable part of a Supabase token.
type UserMetadata struct {
	FullName  string `json:"full_name"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Picture   string `json:"picture"`
}

// AppMetadata is the server-controlled part of a Supabase token.
type AppMetadata struct {
	Provider string `json:"provider"`
	Role     string `json:"role"`
}

// AuthClaims is the subset of token claims the service reads.
type AuthClaims struct {
	Subject      string
	Email        string
	UserMetadata UserMetadata
	AppMetadata  AppMetadata
}

// ProfileFromClaims maps token claims to a Profile. Each field has one rule:
// full name prefers full_name then name, avatar prefers avatar_url then
// picture, role comes only from app_metadata and defaults to customer.
func ProfileFromClaims(c AuthClaims) (Profile, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Profile{}, ErrUnauthorized.With("token subject is not a user id").Wrap(err)
	}
	p := Profile{
		UserID:    id,
		Email:     strings.ToLower(strings.TrimSpace(c.Email)),
		FullName:  firstNonEmpty(c.UserMetadata.FullName, c.UserMetadata.Name),
		AvatarURL: firstNonEmpty(c.UserMetadata.AvatarURL, c.UserMetadata.Picture),
		Role:      RoleCustomer,
	}
	switch Role(c.AppMetadata.Role) {
	case RoleProvider:
		p.Role = RoleProvider
	case RoleAdmin:
		p.Role = RoleAdmin
	}
	return p, nil
}

// Actor is the audit name recorded on booking events.
func (p Profile) Actor() string {
	return string(p.Role) + ":" + p.UserID.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
