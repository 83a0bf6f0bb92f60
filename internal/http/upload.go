package httpx

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/OlgaBilynska/REST-API-app/internal/service/auth"
)

const (
	maxUploadBytes  = 10 << 20
	avatarFormField = "avatar"
)

// avatarUpload pulls the optional avatar file out of a multipart request and
// stages it in the temp directory. A nil result means no file was attached.
// The staged file carries a unique name so concurrent uploads never collide
// in the avatar directory.
func (r *Router) avatarUpload(req *http.Request) (*auth.AvatarUpload, error) {
	if !strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, nil
	}
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}
	file, header, err := req.FormFile(avatarFormField)
	if err != nil {
		if err == http.ErrMissingFile {
			return nil, nil
		}
		return nil, fmt.Errorf("read avatar field: %w", err)
	}
	defer file.Close()

	return r.stageUpload(file, header)
}

func (r *Router) stageUpload(file multipart.File, header *multipart.FileHeader) (*auth.AvatarUpload, error) {
	name := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(header.Filename))
	tempPath := filepath.Join(r.tmpDir, name)

	dst, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("create temp upload: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("flush upload: %w", err)
	}
	return &auth.AvatarUpload{TempPath: tempPath, Filename: name}, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "avatar"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
}
