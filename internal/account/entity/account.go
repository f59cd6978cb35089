package entity

import (
	"database/sql"
	"time"
)

// Account represents a row in the `accounts` table. It carries the credential
// digest and the current refresh token and must never be serialized to
// clients; use Profile for responses.
type Account struct {
	ID                 string         `db:"id"`
	Username           string         `db:"username"`
	Email              string         `db:"email"`
	FullName           string         `db:"full_name"`
	PasswordHash       string         `db:"password_hash"`
	PasswordAlgo       string         `db:"password_algo"`
	AvatarURL          string         `db:"avatar_url"`
	AvatarRemoteID     string         `db:"avatar_remote_id"`
	CoverImageURL      string         `db:"cover_image_url"`
	CoverImageRemoteID string         `db:"cover_image_remote_id"`
	RefreshToken       sql.NullString `db:"refresh_token"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

// Profile is the safe projection of an Account: no credential, no refresh token.
type Profile struct {
	ID         string    `db:"id" json:"id"`
	Username   string    `db:"username" json:"username"`
	Email      string    `db:"email" json:"email"`
	FullName   string    `db:"full_name" json:"fullName"`
	Avatar     string    `db:"avatar_url" json:"avatar"`
	CoverImage string    `db:"cover_image_url" json:"coverImage"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// Profile strips secrets from a.
func (a *Account) Profile() *Profile {
	return &Profile{
		ID:         a.ID,
		Username:   a.Username,
		Email:      a.Email,
		FullName:   a.FullName,
		Avatar:     a.AvatarURL,
		CoverImage: a.CoverImageURL,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// Asset references an object held by the remote media store.
type Asset struct {
	URL      string `db:"url" json:"url"`
	RemoteID string `db:"remote_id" json:"-"`
}

// IsZero reports whether no asset is referenced.
func (a Asset) IsZero() bool { return a.URL == "" && a.RemoteID == "" }

// AssetField names a replaceable profile asset.
type AssetField string

const (
	FieldAvatar     AssetField = "avatar"
	FieldCoverImage AssetField = "coverImage"
)

// Columns returns the url and remote id columns backing f.
func (f AssetField) Columns() (urlCol, remoteCol string, ok bool) {
	switch f {
	case FieldAvatar:
		return "avatar_url", "avatar_remote_id", true
	case FieldCoverImage:
		return "cover_image_url", "cover_image_remote_id", true
	}
	return "", "", false
}

// Asset returns the reference currently stored for f.
func (a *Account) Asset(f AssetField) Asset {
	switch f {
	case FieldAvatar:
		return Asset{URL: a.AvatarURL, RemoteID: a.AvatarRemoteID}
	case FieldCoverImage:
		return Asset{URL: a.CoverImageURL, RemoteID: a.CoverImageRemoteID}
	}
	return Asset{}
}

// SetAsset stores ref under f.
func (a *Account) SetAsset(f AssetField, ref Asset) {
	switch f {
	case FieldAvatar:
		a.AvatarURL, a.AvatarRemoteID = ref.URL, ref.RemoteID
	case FieldCoverImage:
		a.CoverImageURL, a.CoverImageRemoteID = ref.URL, ref.RemoteID
	}
}
