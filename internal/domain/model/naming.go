// naming.go — нормализация отображаемых имён и производные свойства:
// папка, расширение, MIME-тип, тип предпросмотра.
package model

import (
	"fmt"
	"mime"
	"path"
	"strings"
)

// DefaultExtension — расширение для имён без суффикса.
const DefaultExtension = "bin"

// TextExtension — расширение, принудительно выставляемое при сохранении текста.
const TextExtension = "txt"

// TextMimeType — MIME-тип текстовых записей.
const TextMimeType = "text/plain; charset=utf-8"

// fallbackMimeType — MIME-тип для неизвестных расширений.
const fallbackMimeType = "application/octet-stream"

// PreviewKind — тип предпросмотра файла.
type PreviewKind string

const (
	PreviewNone  PreviewKind = ""
	PreviewText  PreviewKind = "text"
	PreviewImage PreviewKind = "image"
)

var previewableExtensions = map[string]bool{
	"txt": true, "md": true, "py": true, "js": true, "html": true,
	"css": true, "json": true, "xml": true, "csv": true, "log": true,
}

var imageExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true,
	"bmp": true, "svg": true, "webp": true,
}

// NormalizeDisplayName приводит пользовательское имя к виду "a/b/c.ext".
// Обратные слэши заменяются на "/", пустые сегменты и "." отбрасываются.
// Отклоняются: пустое имя, абсолютные пути, буквы дисков, "..",
// NUL-байты и скрытые файлы (имя начинается с точки).
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: имя файла не задано", ErrValidation)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: имя файла содержит NUL", ErrValidation)
	}

	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: абсолютный путь недопустим: %q", ErrValidation, name)
	}
	if len(name) >= 2 && name[1] == ':' && isASCIILetter(name[0]) {
		return "", fmt.Errorf("%w: путь с буквой диска недопустим: %q", ErrValidation, name)
	}

	parts := strings.Split(name, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch p {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: сегмент '..' недопустим: %q", ErrValidation, name)
		}
		segments = append(segments, p)
	}
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: имя файла не задано", ErrValidation)
	}

	base := segments[len(segments)-1]
	if strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: скрытые файлы не принимаются: %q", ErrValidation, base)
	}

	return strings.Join(segments, "/"), nil
}

// FolderOf возвращает первый сегмент нормализованного имени,
// если имя содержит разделитель пути, иначе "".
func FolderOf(displayName string) string {
	i := strings.IndexByte(displayName, '/')
	if i <= 0 {
		return ""
	}
	return displayName[:i]
}

// BaseNameOf возвращает последний сегмент нормализованного имени.
func BaseNameOf(displayName string) string {
	return path.Base(displayName)
}

// ExtensionOf возвращает расширение базового имени без точки
// в нижнем регистре или DefaultExtension.
func ExtensionOf(displayName string) string {
	ext := strings.TrimPrefix(path.Ext(BaseNameOf(displayName)), ".")
	if ext == "" {
		return DefaultExtension
	}
	return strings.ToLower(ext)
}

// MimeTypeOf определяет MIME-тип по расширению имени.
func MimeTypeOf(displayName string) string {
	if path.Ext(BaseNameOf(displayName)) == "" {
		return fallbackMimeType
	}
	t := mime.TypeByExtension("." + ExtensionOf(displayName))
	if t == "" {
		return fallbackMimeType
	}
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return fallbackMimeType
	}
	return mediaType
}

// ForceTextName гарантирует суффикс ".txt" у имени текстовой записи.
func ForceTextName(displayName string) string {
	if strings.EqualFold(path.Ext(displayName), "."+TextExtension) {
		return displayName
	}
	return displayName + "." + TextExtension
}

// PreviewKindOf возвращает тип предпросмотра для расширения.
func PreviewKindOf(ext string) PreviewKind {
	ext = strings.ToLower(ext)
	switch {
	case previewableExtensions[ext]:
		return PreviewText
	case imageExtensions[ext]:
		return PreviewImage
	default:
		return PreviewNone
	}
}

// StoredNameFor формирует имя blob: {id}.{ext}.
func StoredNameFor(id, ext string) string {
	return id + "." + ext
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
