// disk_usage.go — ёмкость диска под директорией blob.
// Платформозависимый код для Unix-подобных систем.
package handlers

import (
	"fmt"
	"syscall"
)

// DiskUsage — занятость файловой системы в байтах.
type DiskUsage struct {
	Total     int64
	Used      int64
	Available int64
}

// UsedPercent возвращает долю занятого места в процентах.
func (d DiskUsage) UsedPercent() float64 {
	if d.Total <= 0 {
		return 0
	}
	return float64(d.Used) / float64(d.Total) * 100
}

// statDisk возвращает ёмкость файловой системы, содержащей path.
func statDisk(path string) (DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskUsage{}, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)
	return DiskUsage{
		Total:     total,
		Used:      total - available,
		Available: available,
	}, nil
}
