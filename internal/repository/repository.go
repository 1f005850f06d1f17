// Package repository contains the Postgres-backed implementations of the
// domain repository interfaces, built on gorm. Write methods accept a
// transaction handle so services compose multi-step operations atomically.
package repository

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func totalPages(total int64, size int) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
