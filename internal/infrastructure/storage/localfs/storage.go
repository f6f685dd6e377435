package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

// Storage archives source documents under <base>/<group_id>/<document_name>.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/documents"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

// Save overwrites any previous copy. The file is written to a temp name and
// renamed so readers never observe a partial document.
func (s *Storage) Save(_ context.Context, groupID int64, documentName string, data io.Reader) error {
	path, err := s.path(groupID, documentName)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create group dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, groupID int64, documentName string) (io.ReadCloser, error) {
	path, err := s.path(groupID, documentName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "open archived document", err)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *Storage) Delete(_ context.Context, groupID int64, documentName string) error {
	path, err := s.path(groupID, documentName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.WrapError(domain.ErrDocumentNotFound, "delete archived document", err)
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// List walks numeric group directories. Other directories and temp files are ignored.
func (s *Storage) List(_ context.Context) ([]domain.ArchivedDocument, error) {
	groups, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	var out []domain.ArchivedDocument
	for _, g := range groups {
		if !g.IsDir() {
			continue
		}
		groupID, err := strconv.ParseInt(g.Name(), 10, 64)
		if err != nil || groupID <= 0 {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.basePath, g.Name()))
		if err != nil {
			return nil, fmt.Errorf("read group dir: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
				continue
			}
			out = append(out, domain.ArchivedDocument{GroupID: groupID, DocumentName: f.Name()})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].DocumentName < out[j].DocumentName
	})
	return out, nil
}

func (s *Storage) path(groupID int64, documentName string) (string, error) {
	if groupID <= 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "archive path", fmt.Errorf("group id must be positive"))
	}
	name := SanitizeName(documentName)
	if name == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "archive path", fmt.Errorf("invalid document name %q", documentName))
	}
	return filepath.Join(s.basePath, strconv.FormatInt(groupID, 10), name), nil
}

// SanitizeName strips directory components so a document name cannot escape
// its group directory.
func SanitizeName(documentName string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(documentName), "\\", "/"))
	switch name {
	case ".", "..", "/":
		return ""
	}
	if strings.HasPrefix(name, ".") {
		return ""
	}
	return name
}
