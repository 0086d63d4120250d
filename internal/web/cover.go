// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
)

var coverBasenames = []string{"cover", "folder", "artwork"}

// findCoverFile looks for a JPEG cover image among a linked torrent's
// materialized files, preferring a conventionally-named file before
// falling back to the first image it finds.
func findCoverFile(libraryPath string, files []string) (string, bool) {
	var fallback string

	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		if ext != ".jpg" && ext != ".jpeg" {
			continue
		}

		base := strings.ToLower(strings.TrimSuffix(filepath.Base(f), ext))
		for _, name := range coverBasenames {
			if base == name {
				return filepath.Join(libraryPath, f), true
			}
		}
		if fallback == "" {
			fallback = filepath.Join(libraryPath, f)
		}
	}

	if fallback != "" {
		return fallback, true
	}
	return "", false
}

func decodeJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return jpeg.Decode(f)
}
