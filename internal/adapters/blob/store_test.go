package blob

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestStoreSaveAndRelease(t *testing.T) {
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	handle, err := store.Save(strings.NewReader("payload"), "photo.png")
	if err != nil {
		t.Fatalf("сохранение: %v", err)
	}
	if !strings.HasSuffix(handle, ".png") {
		t.Fatalf("хэндл должен сохранять расширение, получили %q", handle)
	}
	if !store.Exists(handle) {
		t.Fatalf("файл должен существовать после сохранения")
	}
	if _, err := store.Path(handle); err != nil {
		t.Fatalf("путь должен находиться: %v", err)
	}

	if err := store.Release(handle); err != nil {
		t.Fatalf("освобождение: %v", err)
	}
	if store.Exists(handle) {
		t.Fatalf("файл должен быть удалён")
	}
	// Повторное освобождение не считается ошибкой.
	if err := store.Release(handle); err != nil {
		t.Fatalf("повторное освобождение: %v", err)
	}
}

func TestStoreRejectsTraversal(t *testing.T) {
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := store.Path("../etc/passwd"); err == nil {
		t.Fatalf("ожидали ошибку для пути с ..")
	}
	if store.Exists("a/b") {
		t.Fatalf("хэндл с разделителем не должен находиться")
	}
}
