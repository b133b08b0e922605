// Package upload stores files attached to chat messages on local disk.
package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ctbritt/dark-sun-assistant/internal/conversation"
)

var (
	ErrTooLarge        = errors.New("file exceeds the upload size limit")
	ErrUnsupportedType = errors.New("file type is not allowed")
	ErrInvalidName     = errors.New("invalid file name")
	ErrNotFound        = errors.New("file not found")
)

// Category subdirectories under the upload root.
const (
	CategoryImages    = "images"
	CategoryDocuments = "documents"
	CategoryTemp      = "temp"
)

var categories = []string{CategoryImages, CategoryDocuments, CategoryTemp}

// extTypes covers extensions the platform mime table often lacks.
var extTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".pdf":      "application/pdf",
	".webp":     "image/webp",
}

// File describes a stored upload.
type File struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimetype"`
	UploadedAt   time.Time `json:"uploadedAt"`
	Content      string    `json:"content,omitempty"`
	Processed    bool      `json:"processed"`
}

// Attachment converts f into the form stored with a chat message.
func (f *File) Attachment() conversation.Attachment {
	return conversation.Attachment{
		ID:           f.ID,
		Name:         f.Filename,
		MimeType:     f.MimeType,
		Size:         f.Size,
		URL:          f.Path,
		Content:      f.Content,
		IsProcessed:  f.Processed,
		OriginalName: f.OriginalName,
	}
}

// Entry is one file found by List.
type Entry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Type     string    `json:"type"`
}

// Store saves uploads under dir/<category>/.
type Store struct {
	dir          string
	maxSize      int64
	allowedTypes map[string]bool
	logger       *slog.Logger
	now          func() time.Time
}

// NewStore creates the category directories under dir.
func NewStore(dir string, maxSize int64, allowedTypes []string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, c := range categories {
		if err := os.MkdirAll(filepath.Join(dir, c), 0o755); err != nil {
			return nil, fmt.Errorf("create upload directory: %w", err)
		}
	}
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(t)] = true
	}
	return &Store{
		dir:          dir,
		maxSize:      maxSize,
		allowedTypes: allowed,
		logger:       logger.With("component", "upload"),
		now:          time.Now,
	}, nil
}

// Dir is the upload root.
func (s *Store) Dir() string { return s.dir }

// MaxSize is the per-file limit in bytes.
func (s *Store) MaxSize() int64 { return s.maxSize }

// Save writes r to disk. declaredType is the client-supplied content type; when it is
// empty or generic the type is derived from the file extension.
func (s *Store) Save(originalName, declaredType string, r io.Reader) (*File, error) {
	base := filepath.Base(filepath.Clean("/" + originalName))
	if base == "/" || base == "." {
		return nil, ErrInvalidName
	}

	mimeType := detectType(base, declaredType)
	if len(s.allowedTypes) > 0 && !s.allowedTypes[mimeType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	id := uuid.NewString()
	filename := id + strings.ToLower(filepath.Ext(base))
	category := categoryFor(mimeType)
	full := filepath.Join(s.dir, category, filename)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	written, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > s.maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(full)
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("write upload: %w", err)
	}

	file := &File{
		ID:           id,
		OriginalName: base,
		Filename:     filename,
		Path:         path.Join("/uploads", category, filename),
		Size:         written,
		MimeType:     mimeType,
		UploadedAt:   s.now(),
	}

	if strings.HasPrefix(mimeType, "text/") {
		data, err := os.ReadFile(full)
		switch {
		case err != nil:
			s.logger.Warn("read text upload", "file", filename, "err", err)
		case !utf8.Valid(data):
			s.logger.Warn("text upload is not valid UTF-8", "file", filename)
		default:
			file.Content = string(data)
			file.Processed = true
		}
	}

	s.logger.Info("file uploaded", "file", filename, "type", mimeType, "size", written, "processed", file.Processed)
	return file, nil
}

// List returns every stored file, newest first.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	for _, c := range categories {
		dirEntries, err := os.ReadDir(filepath.Join(s.dir, c))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list uploads: %w", err)
		}
		for _, de := range dirEntries {
			if de.IsDir() {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			entries = append(entries, Entry{
				Name:     de.Name(),
				Path:     path.Join("/uploads", c, de.Name()),
				Size:     info.Size(),
				Modified: info.ModTime(),
				Type:     c,
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Modified.After(entries[j].Modified)
	})
	return entries, nil
}

// Delete removes the named file from whichever category holds it.
func (s *Store) Delete(name string) error {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}

	root, err := filepath.Abs(s.dir)
	if err != nil {
		return fmt.Errorf("resolve upload directory: %w", err)
	}
	for _, c := range categories {
		full := filepath.Join(root, c, name)
		if !strings.HasPrefix(full, root+string(filepath.Separator)) {
			return ErrInvalidName
		}
		err := os.Remove(full)
		if err == nil {
			s.logger.Info("file deleted", "file", name)
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete upload: %w", err)
		}
	}
	return ErrNotFound
}

func detectType(name, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		declared = mt
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}

func categoryFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImages
	case mimeType == "application/pdf", strings.HasPrefix(mimeType, "text/"):
		return CategoryDocuments
	default:
		return CategoryTemp
	}
}
