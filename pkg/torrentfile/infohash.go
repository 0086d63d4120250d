// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentfile computes a .torrent file's info_hash: the SHA-1 of
// its bencoded "info" dictionary, taken verbatim from the source bytes.
// No general-purpose bencode library exposes the raw span of a decoded
// value (they decode into Go values, discarding the original encoding),
// so this package walks the encoding directly to find it.
package torrentfile

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrNotADict   = errors.New("torrentfile: not a bencoded dictionary")
	ErrNoInfoDict = errors.New("torrentfile: no top-level \"info\" key")
)

// InfoHash returns the hex-encoded SHA-1 info_hash for a raw .torrent
// file's bytes.
func InfoHash(raw []byte) (string, error) {
	span, err := infoDictSpan(raw)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(span)
	return hex.EncodeToString(sum[:]), nil
}

// infoDictSpan returns the raw bytes of the top-level "info" value.
func infoDictSpan(raw []byte) ([]byte, error) {
	if len(raw) == 0 || raw[0] != 'd' {
		return nil, ErrNotADict
	}

	pos := 1
	for pos < len(raw) && raw[pos] != 'e' {
		key, next, err := decodeString(raw, pos)
		if err != nil {
			return nil, fmt.Errorf("read dict key: %w", err)
		}
		pos = next

		valueStart := pos
		valueEnd, err := skipValue(raw, pos)
		if err != nil {
			return nil, fmt.Errorf("skip value for key %q: %w", key, err)
		}

		if key == "info" {
			return raw[valueStart:valueEnd], nil
		}
		pos = valueEnd
	}

	return nil, ErrNoInfoDict
}

// skipValue returns the index just past the bencoded value starting at
// pos, whatever its type (string, integer, list, or dict).
func skipValue(raw []byte, pos int) (int, error) {
	if pos >= len(raw) {
		return 0, errors.New("unexpected end of input")
	}

	switch raw[pos] {
	case 'i':
		end := indexByte(raw, pos, 'e')
		if end < 0 {
			return 0, errors.New("unterminated integer")
		}
		return end + 1, nil

	case 'l', 'd':
		p := pos + 1
		for p < len(raw) && raw[p] != 'e' {
			if raw[pos] == 'd' {
				// dict: skip key (a string) then value
				_, next, err := decodeString(raw, p)
				if err != nil {
					return 0, err
				}
				p = next
			}
			next, err := skipValue(raw, p)
			if err != nil {
				return 0, err
			}
			p = next
		}
		if p >= len(raw) {
			return 0, errors.New("unterminated list/dict")
		}
		return p + 1, nil

	default:
		// byte string: "<len>:<bytes>"
		_, next, err := decodeString(raw, pos)
		if err != nil {
			return 0, err
		}
		return next, nil
	}
}

// decodeString reads a bencoded byte string "<len>:<bytes>" starting at
// pos, returning its content and the index just past it.
func decodeString(raw []byte, pos int) (string, int, error) {
	colon := indexByte(raw, pos, ':')
	if colon < 0 {
		return "", 0, errors.New("malformed byte string: no length prefix")
	}

	length := 0
	for i := pos; i < colon; i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return "", 0, fmt.Errorf("malformed byte string length at offset %d", i)
		}
		length = length*10 + int(raw[i]-'0')
	}

	start := colon + 1
	end := start + length
	if end > len(raw) {
		return "", 0, errors.New("byte string length exceeds input")
	}
	return string(raw[start:end]), end, nil
}

func indexByte(raw []byte, from int, b byte) int {
	for i := from; i < len(raw); i++ {
		if raw[i] == b {
			return i
		}
	}
	return -1
}
