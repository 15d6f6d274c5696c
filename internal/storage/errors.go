package storage

import "errors"

var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrStorageInit   = errors.New("storage: initialization failed")
	ErrFileOperation = errors.New("storage: file operation failed")
)
