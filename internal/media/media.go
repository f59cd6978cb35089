// Package media coordinates profile asset uploads against a remote object
// store and owns the lifetime of the local temporary files they come from.
package media

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/afero"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account/entity"
)

// ErrUnsupportedMedia is returned by a RemoteStore when the file content is
// not an accepted image type.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// LocalFile is an uploaded attachment spooled to a temporary file.
type LocalFile struct {
	Path     string
	Filename string
	Size     int64
}

// RemoteStore uploads and deletes objects in the remote media store.
type RemoteStore interface {
	Upload(ctx context.Context, prefix string, file LocalFile) (entity.Asset, error)
	Delete(ctx context.Context, remoteID string) error
}

// RemoveTemp deletes file from fs. A file that is already gone is not an error.
func RemoveTemp(fs afero.Fs, file LocalFile) error {
	if file.Path == "" {
		return nil
	}
	if err := fs.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func prefixFor(field entity.AssetField) string {
	switch field {
	case entity.FieldCoverImage:
		return "covers"
	default:
		return "avatars"
	}
}
