// Package avatars manages locally stored avatar images under the public
// directory and computes default gravatar URLs for accounts without an
// uploaded image.
package avatars

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const publicPrefix = "avatars"

// ErrNotManaged indicates the path does not reference a locally stored file.
var ErrNotManaged = errors.New("avatars: path not managed by this store")

// Store moves committed avatar files into the public avatar directory and
// removes superseded ones.
type Store struct {
	dir string
}

// NewStore prepares the avatar directory under publicDir.
func NewStore(publicDir string) (*Store, error) {
	dir := filepath.Join(publicDir, publicPrefix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create avatar dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Commit atomically moves a temp upload into the avatar directory and
// returns the public path clients fetch it under. On failure the temp file
// is left in place.
func (s *Store) Commit(tempPath, filename string) (string, error) {
	name := filepath.Base(filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("avatars: invalid filename %q", filename)
	}
	if err := os.Rename(tempPath, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("commit avatar: %w", err)
	}
	return path.Join(publicPrefix, name), nil
}

// Remove deletes a previously committed avatar file. A missing file is not
// an error: cleanup of replaced avatars is best-effort. Paths outside the
// avatar directory, including remote gravatar URLs, are refused.
func (s *Store) Remove(publicPath string) error {
	if !IsLocal(publicPath) {
		return ErrNotManaged
	}
	name := filepath.Base(publicPath)
	target := filepath.Join(s.dir, name)
	if err := os.Remove(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove avatar: %w", err)
	}
	return nil
}

// IsLocal reports whether publicPath references a file committed by this
// store, as opposed to an externally computed URL.
func IsLocal(publicPath string) bool {
	if publicPath == "" || strings.Contains(publicPath, "://") {
		return false
	}
	rest, ok := strings.CutPrefix(publicPath, publicPrefix+"/")
	if !ok || rest == "" {
		return false
	}
	return rest == path.Base(rest)
}

// GravatarURL computes the default avatar URL for an email address.
func GravatarURL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?s=200&r=pg&d=wavatar", hex.EncodeToString(sum[:]))
}
