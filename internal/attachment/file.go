// Package attachment turns local files into remote references the chat can send.
package attachment

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// File is a local file queued for upload.
type File struct {
	Name string
	Path string
	Size int64
}

// Stat describes the file at path.
func Stat(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("stat attachment: %s is a directory", path)
	}
	return File{Name: filepath.Base(path), Path: path, Size: info.Size()}, nil
}

// ErrTooLarge matches any TooLargeError.
var ErrTooLarge = errors.New("attachment too large")

// TooLargeError rejects a file before any upload is attempted.
type TooLargeError struct {
	Name  string
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("%s is %s, larger than the %s limit", e.Name, humanSize(e.Size), humanSize(e.Limit))
}

func (e *TooLargeError) Is(target error) bool { return target == ErrTooLarge }

// RemoteRef strips the signing query from an upload target, leaving the durable object URL.
func RemoteRef(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse upload target: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse upload target: %q is not absolute", target)
	}
	return u.Scheme + "://" + u.Host + u.Path, nil
}

func humanSize(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%d MB", (n+mb/2)/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
