// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// ClientFile is one file within a torrent as reported by the torrent
// client, relative to the torrent's save path.
type ClientFile struct {
	Path     string
	SizeByte int64
}

// ClientTorrent is the torrent-client adapter's view of one torrent, per
// spec §6's list_torrents shape.
type ClientTorrent struct {
	InfoHash string
	Name     string
	Category string
	Tags     []string
	State    string
	SavePath string
	Files    []ClientFile
}
