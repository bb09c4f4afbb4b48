package model

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"простое имя", "report.csv", "report.csv", false},
		{"папка", "reports/q1.csv", "reports/q1.csv", false},
		{"обратные слэши", `a\b\c.txt`, "a/b/c.txt", false},
		{"двойные слэши и точки", "a//./b.txt", "a/b.txt", false},
		{"пробелы по краям", "  x.txt ", "x.txt", false},
		{"пустое", "", "", true},
		{"только пробелы", "   ", "", true},
		{"только слэши", "///", "", true},
		{"абсолютный путь", "/etc/passwd", "", true},
		{"абсолютный windows путь", `\\server\share.txt`, "", true},
		{"буква диска", `C:\temp\x.txt`, "", true},
		{"traversal", "a/../../x.txt", "", true},
		{"скрытый файл", "a/.env", "", true},
		{"NUL", "a\x00b.txt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDisplayName(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ожидалась ErrValidation, получили %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("хотели %q, получили %q", tt.want, got)
			}
		})
	}
}

func TestFolderOf(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a/b/c.txt", "a"},
		{"a/x.txt", "a"},
		{"x.txt", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FolderOf(tt.input); got != tt.want {
			t.Errorf("FolderOf(%q): хотели %q, получили %q", tt.input, tt.want, got)
		}
	}
}

func TestExtensionOf(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"photo.PNG", "png"},
		{"archive.tar.gz", "gz"},
		{"Makefile", DefaultExtension},
		{"dir.d/noext", DefaultExtension},
		{"a/b/c.Txt", "txt"},
	}
	for _, tt := range tests {
		if got := ExtensionOf(tt.input); got != tt.want {
			t.Errorf("ExtensionOf(%q): хотели %q, получили %q", tt.input, tt.want, got)
		}
	}
}

func TestMimeTypeOf(t *testing.T) {
	if got := MimeTypeOf("img/logo.png"); got != "image/png" {
		t.Errorf("хотели image/png, получили %q", got)
	}
	if got := MimeTypeOf("data.json"); got != "application/json" {
		t.Errorf("хотели application/json, получили %q", got)
	}
	if got := MimeTypeOf("blob"); got != fallbackMimeType {
		t.Errorf("хотели %q, получили %q", fallbackMimeType, got)
	}
	if got := MimeTypeOf("x.unknownext123"); got != fallbackMimeType {
		t.Errorf("хотели %q, получили %q", fallbackMimeType, got)
	}
}

func TestForceTextName(t *testing.T) {
	if got := ForceTextName("notes"); got != "notes.txt" {
		t.Errorf("хотели notes.txt, получили %q", got)
	}
	if got := ForceTextName("notes.TXT"); got != "notes.TXT" {
		t.Errorf("хотели notes.TXT, получили %q", got)
	}
	if got := ForceTextName("notes.md"); got != "notes.md.txt" {
		t.Errorf("хотели notes.md.txt, получили %q", got)
	}
}

func TestPreviewKindOf(t *testing.T) {
	if PreviewKindOf("MD") != PreviewText {
		t.Error("md должен быть текстовым предпросмотром")
	}
	if PreviewKindOf("webp") != PreviewImage {
		t.Error("webp должен быть изображением")
	}
	if PreviewKindOf("exe") != PreviewNone {
		t.Error("exe не должен иметь предпросмотра")
	}
}

func TestFileRecord_IsExpired(t *testing.T) {
	now := time.Now().UTC()
	rec := &FileRecord{ExpiresAt: now}

	if !rec.IsExpired(now) {
		t.Error("запись с expires_at == now должна считаться истёкшей")
	}
	if rec.IsExpired(now.Add(-time.Millisecond)) {
		t.Error("запись до expires_at не должна считаться истёкшей")
	}
}

func TestFileRecord_Validate(t *testing.T) {
	now := time.Now().UTC()
	valid := FileRecord{
		ID:          "id-1",
		DisplayName: "a.txt",
		StoredName:  "id-1.txt",
		SizeBytes:   1,
		UploadedAt:  now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	broken := valid
	broken.ExpiresAt = now
	if err := broken.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ErrValidation для expires_at == uploaded_at, получили %v", err)
	}

	broken = valid
	broken.StoredName = ""
	if err := broken.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ErrValidation для пустого stored_name, получили %v", err)
	}
}

func TestErrNothingToArchive_IsNotFound(t *testing.T) {
	if !errors.Is(ErrNothingToArchive, ErrNotFound) {
		t.Error("ErrNothingToArchive должна оборачивать ErrNotFound")
	}
}

func TestParseOperationType(t *testing.T) {
	for _, s := range []string{"upload", "save_text", "delete", "purge", "archive", "import"} {
		got, err := ParseOperationType(s)
		if err != nil || string(got) != s {
			t.Errorf("ParseOperationType(%q): получили %q, %v", s, got, err)
		}
	}
	for _, s := range []string{"", "UPLOAD", "rename"} {
		if _, err := ParseOperationType(s); !errors.Is(err, ErrValidation) {
			t.Errorf("ParseOperationType(%q): ожидалась ErrValidation, получили %v", s, err)
		}
	}
}
