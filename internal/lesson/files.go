package lesson

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ashureev/studiora/internal/domain"
)

// Files stores documents under <root>/<user_id>/<name>.
type Files struct {
	root string
}

// NewFiles creates the root directory if needed.
func NewFiles(root string) (*Files, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Files{root: root}, nil
}

// Save writes doc for the user.
func (f *Files) Save(userID int64, doc domain.Document) error {
	path, err := f.path(userID, doc.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	if err := os.WriteFile(path, doc.Data, 0o640); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// Open reads a stored document. Missing files yield domain.ErrArtifactNotFound.
func (f *Files) Open(userID int64, name string) (domain.Document, error) {
	path, err := f.path(userID, name)
	if err != nil {
		return domain.Document{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Document{}, domain.ErrArtifactNotFound
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("read artifact: %w", err)
	}
	return domain.Document{Name: name, ContentType: ContentType, Data: data}, nil
}

func (f *Files) path(userID int64, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid artifact name %q: %w", name, domain.ErrArtifactNotFound)
	}
	return filepath.Join(f.root, strconv.FormatInt(userID, 10), name), nil
}
