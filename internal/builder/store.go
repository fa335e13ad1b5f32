package builder

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// seedChunkLen is the directory name width used by the folder tree layout.
const seedChunkLen = 3

// Store maps seeds to shard files under a root directory. It keeps no state
// of its own: presence and size of the files are the only persisted facts.
type Store struct {
	root       string
	folderTree bool
}

func NewStore(root string, folderTree bool) *Store {
	return &Store{root: root, folderTree: folderTree}
}

// chunks splits s into pieces of at most size characters.
func chunks(s string, size int) []string {
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}

// Path returns the file location for a seed. With the folder tree enabled the
// seed is split into fixed-width pieces forming nested directories, which
// bounds per-directory entry counts for very large stores; the file itself
// keeps the full seed as its name.
func (s *Store) Path(seed string) string {
	if !s.folderTree {
		return filepath.Join(s.root, seed)
	}
	parts := append([]string{s.root}, chunks(seed, seedChunkLen)...)
	return filepath.Join(append(parts, seed)...)
}

// Create opens the shard file for writing, creating parent directories on
// demand and truncating any previous content.
func (s *Store) Create(seed string) (*os.File, error) {
	path := s.Path(seed)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, xerrors.Errorf("failed to create shard dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to create shard file: %w", err)
	}
	return f, nil
}

func (s *Store) Exists(seed string) bool {
	_, err := os.Stat(s.Path(seed))
	return err == nil
}

// Size reports the shard file size, or false if the shard is absent.
func (s *Store) Size(seed string) (int64, bool) {
	info, err := os.Stat(s.Path(seed))
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// Delete removes the shard file. Deleting an absent shard is not an error.
func (s *Store) Delete(seed string) error {
	err := os.Remove(s.Path(seed))
	if err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("failed to delete shard: %w", err)
	}
	return nil
}

// HashShard streams the shard file through SHA-256 and returns the hex
// digest. The file is always re-read from disk.
func (s *Store) HashShard(seed string) (string, error) {
	f, err := os.Open(s.Path(seed))
	if err != nil {
		return "", xerrors.Errorf("failed to open shard: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", xerrors.Errorf("failed to read shard: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
