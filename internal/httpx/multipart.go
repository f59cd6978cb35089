package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/spf13/afero"

	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/media"
)

const maxFieldValue = 64 << 10

// Attachments maps a form field name to the files uploaded under it. A
// field that was not supplied has no entry.
type Attachments map[string][]media.LocalFile

// First returns the first file uploaded under name.
func (a Attachments) First(name string) (media.LocalFile, bool) {
	files := a[name]
	if len(files) == 0 {
		return media.LocalFile{}, false
	}
	return files[0], true
}

// Form is a parsed multipart body whose files have been spooled to temp files.
type Form struct {
	Values      map[string]string
	Attachments Attachments
	fs          afero.Fs
}

// Value returns the first value submitted under name.
func (f *Form) Value(name string) string { return f.Values[name] }

// Cleanup removes every temp file of the form. Files already removed by a
// consumer are skipped.
func (f *Form) Cleanup() {
	for _, files := range f.Attachments {
		for _, file := range files {
			_ = media.RemoveTemp(f.fs, file)
		}
	}
}

// ParseMultipart streams a multipart body, writing each file part to a temp
// file under tempDir on fs. The caller must call Cleanup on the returned form.
func ParseMultipart(r *http.Request, fs afero.Fs, tempDir string, maxBytes int64) (*Form, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperror.ValidationFailed("body", "multipart/form-data body required")
	}
	form := &Form{Values: map[string]string{}, Attachments: Attachments{}, fs: fs}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			form.Cleanup()
			return nil, uploadReadError(err)
		}
		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}
		if part.FileName() == "" {
			b, err := io.ReadAll(io.LimitReader(part, maxFieldValue))
			part.Close()
			if err != nil {
				form.Cleanup()
				return nil, uploadReadError(err)
			}
			if _, seen := form.Values[name]; !seen {
				form.Values[name] = string(b)
			}
			continue
		}
		file, err := spool(fs, tempDir, part.FileName(), part)
		part.Close()
		if err != nil {
			form.Cleanup()
			return nil, err
		}
		if file.Size == 0 {
			_ = media.RemoveTemp(fs, file)
			continue
		}
		form.Attachments[name] = append(form.Attachments[name], file)
	}
}

func spool(fs afero.Fs, dir, filename string, src io.Reader) (media.LocalFile, error) {
	tmp, err := afero.TempFile(fs, dir, "upload-*")
	if err != nil {
		return media.LocalFile{}, apperror.Internal(err)
	}
	file := media.LocalFile{Path: tmp.Name(), Filename: filename}
	n, copyErr := io.Copy(tmp, src)
	closeErr := tmp.Close()
	file.Size = n
	if copyErr != nil {
		_ = media.RemoveTemp(fs, file)
		return media.LocalFile{}, uploadReadError(copyErr)
	}
	if closeErr != nil {
		_ = media.RemoveTemp(fs, file)
		return media.LocalFile{}, apperror.Internal(closeErr)
	}
	return file, nil
}

func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.ValidationFailed("body", "upload exceeds size limit")
	}
	return apperror.ValidationFailed("body", "malformed multipart body")
}
