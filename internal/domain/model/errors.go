// errors.go — доменные ошибки. Проверяются через errors.Is.
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — некорректные входные данные (пустое имя, превышение батча, traversal).
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — запись или blob не найдены.
	ErrNotFound = errors.New("не найдено")
	// ErrStorage — сбой хранилища метаданных.
	ErrStorage = errors.New("ошибка хранилища метаданных")
	// ErrIO — сбой файловой системы при работе с blob.
	ErrIO = errors.New("ошибка ввода-вывода")
	// ErrNothingToArchive — в архив не попал ни один файл.
	ErrNothingToArchive = fmt.Errorf("%w: нет файлов для архивации", ErrNotFound)
)
