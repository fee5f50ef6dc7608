// Package streamstore finds raw elementary streams on disk and fetches
// collections of them from S3 into the local stream directory.
package streamstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"hevc-frame/pkg/pump"
)

// ErrNoStreams is returned when a directory holds no playable stream.
var ErrNoStreams = errors.New("no streams found")

// Extensions lists the raw Annex B stream extensions the player accepts.
var Extensions = []string{".h265", ".hevc", ".265", ".h264", ".264"}

// IsStream reports whether name has a raw stream extension.
func IsStream(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// List returns the stream files directly under dir, sorted by name.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read stream directory %s: %w", dir, err)
	}

	var streams []string
	for _, entry := range entries {
		if entry.IsDir() || !IsStream(entry.Name()) {
			continue
		}
		streams = append(streams, filepath.Join(dir, entry.Name()))
	}

	logrus.WithFields(logrus.Fields{
		"function": "streamstore.List",
		"dir":      dir,
		"found":    len(streams),
	}).Debug("Streamstore: listed local streams")
	return streams, nil
}

// Resolve picks the stream to play: path when set, otherwise the first
// stream in dir.
func Resolve(path, dir string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("stream %s: %w", path, err)
		}
		return path, nil
	}
	streams, err := List(dir)
	if err != nil {
		return "", err
	}
	if len(streams) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoStreams, dir)
	}
	return streams[0], nil
}

// Opener returns a pump source reading the file at path.
func Opener(path string) pump.Source {
	return func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"function": "streamstore.Opener",
			"path":     path,
		}).Info("Streamstore: opened stream")
		return f, nil
	}
}
