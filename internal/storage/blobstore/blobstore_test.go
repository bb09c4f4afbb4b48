package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

func TestNew_CreatesDirAndRemovesStaleTemp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "abc.bin.tmp")
	if err := os.WriteFile(stale, []byte("partial"), 0o640); err != nil {
		t.Fatal(err)
	}

	if _, err := New(dir); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("временный файл должен быть удалён при старте")
	}
}

func TestWrite_ReadBack(t *testing.T) {
	bs, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("hello, blob")
	res, err := bs.Write("id-1", "txt", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if res.StoredName != "id-1.txt" {
		t.Errorf("StoredName: хотели id-1.txt, получили %s", res.StoredName)
	}
	if res.Size != int64(len(data)) {
		t.Errorf("Size: хотели %d, получили %d", len(data), res.Size)
	}
	sum := sha256.Sum256(data)
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum не совпадает: %s", res.Checksum)
	}
	if !bs.Exists(res.StoredName) {
		t.Error("blob должен существовать после записи")
	}
	if _, err := os.Stat(bs.Path(res.StoredName) + tmpSuffix); !os.IsNotExist(err) {
		t.Error("временный файл не должен оставаться после записи")
	}

	f, err := bs.Open(res.StoredName)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	got, _ := io.ReadAll(f)
	if !bytes.Equal(got, data) {
		t.Errorf("содержимое: хотели %q, получили %q", data, got)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("обрыв соединения") }

func TestWrite_ReaderFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	bs, _ := New(dir)

	_, err := bs.Write("id-2", "bin", failingReader{})
	if !errors.Is(err, model.ErrIO) {
		t.Fatalf("ожидалась ErrIO, получили %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("директория должна быть пустой, найдено %d файлов", len(entries))
	}
}

func TestOpen_NotFound(t *testing.T) {
	bs, _ := New(t.TempDir())

	_, err := bs.Open("missing.bin")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получили %v", err)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	bs, _ := New(t.TempDir())
	res, _ := bs.Write("id-3", "bin", bytes.NewReader([]byte("x")))

	if err := bs.Delete(res.StoredName); err != nil {
		t.Fatalf("первое удаление: %v", err)
	}
	if err := bs.Delete(res.StoredName); err != nil {
		t.Fatalf("повторное удаление не должно возвращать ошибку: %v", err)
	}
	if bs.Exists(res.StoredName) {
		t.Error("blob не должен существовать после удаления")
	}
}

func TestResolve_RejectsTraversal(t *testing.T) {
	bs, _ := New(t.TempDir())

	for _, name := range []string{"", "..", "../etc/passwd", `a\b`, "a/b"} {
		if _, err := bs.Open(name); !errors.Is(err, model.ErrValidation) {
			t.Errorf("Open(%q): ожидалась ErrValidation, получили %v", name, err)
		}
		if bs.Exists(name) {
			t.Errorf("Exists(%q) должен возвращать false", name)
		}
	}
}
