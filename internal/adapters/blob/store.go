package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-multipost/internal/domain"
)

// Store — временное файловое хранилище изображений. Хэндл — непрозрачный
// идентификатор; освобождение обязано вызываться на каждом пути выхода,
// этим занимаются диспетчер и планировщик.
type Store struct {
	dir string
	log zerolog.Logger
}

// NewStore создаёт хранилище в dir; пустой dir — системный tmp.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "tg-multipost")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("создание каталога блобов: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

var _ domain.BlobStore = (*Store)(nil)

// Save сохраняет содержимое и возвращает хэндл.
func (s *Store) Save(r io.Reader, name string) (string, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".jpg"
	}
	handle := uuid.NewString() + ext
	f, err := os.Create(filepath.Join(s.dir, handle))
	if err != nil {
		return "", fmt.Errorf("создание временного файла: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("запись изображения: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	s.log.Debug().Str("handle", handle).Msg("blob: сохранён временный файл")
	return handle, nil
}

// Path возвращает путь к файлу хэндла.
func (s *Store) Path(handle string) (string, error) {
	p, err := s.safePath(handle)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", domain.ErrBlobMissing
	}
	return p, nil
}

// Exists проверяет, что хэндл всё ещё указывает на живой файл.
func (s *Store) Exists(handle string) bool {
	p, err := s.safePath(handle)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Release удаляет файл хэндла. Отсутствующий файл — не ошибка.
func (s *Store) Release(handle string) error {
	p, err := s.safePath(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			s.log.Warn().Str("handle", handle).Msg("blob: файл уже отсутствует")
			return nil
		}
		return fmt.Errorf("удаление временного файла: %w", err)
	}
	s.log.Debug().Str("handle", handle).Msg("blob: временный файл удалён")
	return nil
}

func (s *Store) safePath(handle string) (string, error) {
	if handle == "" || strings.Contains(handle, "/") || strings.Contains(handle, "..") {
		return "", &domain.MalformedInputError{Field: "handle", Reason: "недопустимый идентификатор"}
	}
	return filepath.Join(s.dir, handle), nil
}
