// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the top-level daemon configuration, loaded from TOML by
// internal/config and hot-swapped atomically on reload (spec §5).
type Config struct {
	MamID   string `toml:"mam_id" mapstructure:"mam_id"`
	DataDir string `toml:"dataDir" mapstructure:"dataDir"`

	// DatabasePath overrides the sqlite file location; if empty it
	// defaults to dataDir/mlm.db (see internal/config).
	DatabasePath string `toml:"databasePath" mapstructure:"databasePath"`

	UnsatBuffer                 int     `toml:"unsat_buffer" mapstructure:"unsat_buffer"`
	MinRatio                    float64 `toml:"min_ratio" mapstructure:"min_ratio"`
	AddTorrentsStopped          bool    `toml:"add_torrents_stopped" mapstructure:"add_torrents_stopped"`
	ExcludeNarratorInLibraryDir bool    `toml:"exclude_narrator_in_library_dir" mapstructure:"exclude_narrator_in_library_dir"`

	SearchIntervalMinutes    int `toml:"search_interval" mapstructure:"search_interval"`
	LinkIntervalMinutes      int `toml:"link_interval" mapstructure:"link_interval"`
	GoodreadsIntervalMinutes int `toml:"goodreads_interval" mapstructure:"goodreads_interval"`

	AudioTypes []string `toml:"audio_types" mapstructure:"audio_types"`
	EbookTypes []string `toml:"ebook_types" mapstructure:"ebook_types"`

	// Ambient stack knobs (SPEC_FULL.md §10), required for a real daemon
	// but not individually enumerated by spec.md §6.
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	SessionSecret string `toml:"sessionSecret" mapstructure:"sessionSecret"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	CheckForUpdates bool `toml:"checkForUpdates" mapstructure:"checkForUpdates"`

	AdminUsername     string `toml:"adminUsername" mapstructure:"adminUsername"`
	AdminPasswordHash string `toml:"adminPasswordHash" mapstructure:"adminPasswordHash"`

	PostLinkHook string `toml:"postLinkHook" mapstructure:"postLinkHook"`

	QBittorrent   []QbitInstance   `toml:"qbittorrent" mapstructure:"qbittorrent"`
	Autograb      []SearchSpecTOML `toml:"autograb" mapstructure:"autograb"`
	Tag           []TagRule        `toml:"tag" mapstructure:"tag"`
	Library       []LibraryRule    `toml:"library" mapstructure:"library"`
	GoodreadsList []GoodreadsList  `toml:"goodreads_list" mapstructure:"goodreads_list"`
}

// QbitInstance is one [[qbittorrent]] block: a torrent-client instance the
// linker/cleaner/selector route torrents to and from.
type QbitInstance struct {
	Name              string  `toml:"name" mapstructure:"name"`
	Host              string  `toml:"host" mapstructure:"host"`
	Username          string  `toml:"username" mapstructure:"username"`
	PasswordEncrypted string  `toml:"password" mapstructure:"password"`
	BasicUsername     *string `toml:"basic_username" mapstructure:"basic_username"`
	BasicPassword     *string `toml:"basic_password" mapstructure:"basic_password"`
}

// TagRule is one [[tag]] block: category/tag assignment applied to
// torrents that match its predicate, per spec §4.4 step 3f and §4.6 step 3.
type TagRule struct {
	// MainCats, when non-empty, restricts this rule to the listed
	// categories; empty means "any".
	MainCats map[MainCat]struct{} `toml:"main_cats" mapstructure:"main_cats"`
	Category string               `toml:"category" mapstructure:"category"`
	Tags     []string             `toml:"tags" mapstructure:"tags"`
}

// LibraryRule is one [[library]] block, consulted by L6 per spec §4.5.
type LibraryRule struct {
	// Exactly one of Category/DownloadDir is set.
	Category    string `toml:"category" mapstructure:"category"`
	DownloadDir string `toml:"download_dir" mapstructure:"download_dir"`

	AllowTags []string `toml:"allow_tags" mapstructure:"allow_tags"`
	DenyTags  []string `toml:"deny_tags" mapstructure:"deny_tags"`

	LibraryDir string `toml:"library_dir" mapstructure:"library_dir"`

	// Materialization is one of hardlink, hardlink_or_copy,
	// hardlink_or_symlink, copy, symlink. Defaults to hardlink.
	Materialization string `toml:"materialization" mapstructure:"materialization"`

	OnCleanedCategory string   `toml:"on_cleaned_category" mapstructure:"on_cleaned_category"`
	OnCleanedTags     []string `toml:"on_cleaned_tags" mapstructure:"on_cleaned_tags"`

	// QBitInstance names which [[qbittorrent]] instance owns torrents
	// matched by this rule, for the cleaner's on_cleaned action.
	QBitInstance string `toml:"qbittorrent" mapstructure:"qbittorrent"`
}

// Matches reports whether a torrent with the given category, source
// download dir, and tags satisfies this rule's predicate, per spec §4.5.
func (r *LibraryRule) Matches(category, sourceDownloadDir string, tags []string) bool {
	matched := false
	if r.Category != "" && r.Category == category {
		matched = true
	}
	if r.DownloadDir != "" && hasPathPrefix(sourceDownloadDir, r.DownloadDir) {
		matched = true
	}
	if !matched {
		return false
	}

	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	if len(r.AllowTags) > 0 {
		any := false
		for _, t := range r.AllowTags {
			if _, ok := tagSet[t]; ok {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}

	for _, t := range r.DenyTags {
		if _, ok := tagSet[t]; ok {
			return false
		}
	}

	return true
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if path == prefix {
		return true
	}
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		sep := path[len(prefix)]
		return sep == '/' || sep == '\\'
	}
	return false
}

// GoodreadsList is one [[goodreads_list]] block; just another source of
// candidate queries feeding the selector, per spec §1.
type GoodreadsList struct {
	Name string           `toml:"name" mapstructure:"name"`
	URL  string           `toml:"url" mapstructure:"url"`
	Grab []SearchSpecTOML `toml:"grab" mapstructure:"grab"`
}

// SearchSpecTOML is the TOML-decodable shape of a SearchSpec; internal/config
// converts it to a domain.SearchSpec after parsing date/set fields.
type SearchSpecTOML struct {
	Name       string `toml:"name" mapstructure:"name"`
	Type       string `toml:"type" mapstructure:"type"`
	UploaderID int64  `toml:"uploader_id" mapstructure:"uploader_id"`
	CostPolicy string `toml:"cost_policy" mapstructure:"cost_policy"`
	Category   string `toml:"category" mapstructure:"category"`

	Languages       []string        `toml:"languages" mapstructure:"languages"`
	Flags           map[string]bool `toml:"flags" mapstructure:"flags"`
	Categories      []string        `toml:"categories" mapstructure:"categories"`
	MinSize         int64           `toml:"min_size" mapstructure:"min_size"`
	MaxSize         int64           `toml:"max_size" mapstructure:"max_size"`
	UploadedAfter   string          `toml:"uploaded_after" mapstructure:"uploaded_after"`
	UploadedBefore  string          `toml:"uploaded_before" mapstructure:"uploaded_before"`
	MinSeeders      int             `toml:"min_seeders" mapstructure:"min_seeders"`
	MaxSeeders      int             `toml:"max_seeders" mapstructure:"max_seeders"`
	MinLeechers     int             `toml:"min_leechers" mapstructure:"min_leechers"`
	MaxLeechers     int             `toml:"max_leechers" mapstructure:"max_leechers"`
	MinSnatched     int             `toml:"min_snatched" mapstructure:"min_snatched"`
	MaxSnatched     int             `toml:"max_snatched" mapstructure:"max_snatched"`
	ExcludeUploader []string        `toml:"exclude_uploader" mapstructure:"exclude_uploader"`

	Query    string   `toml:"query" mapstructure:"query"`
	SearchIn []string `toml:"search_in" mapstructure:"search_in"`

	Sort string `toml:"sort" mapstructure:"sort"`

	MaxPages           int  `toml:"max_pages" mapstructure:"max_pages"`
	UnsatBuffer        *int `toml:"unsat_buffer" mapstructure:"unsat_buffer"`
	WedgeBuffer        *int `toml:"wedge_buffer" mapstructure:"wedge_buffer"`
	MaxActiveDownloads int  `toml:"max_active_downloads" mapstructure:"max_active_downloads"`
	DryRun             bool `toml:"dry_run" mapstructure:"dry_run"`
}

// DefaultConfig returns the zero-config defaults named in spec §6.
func DefaultConfig() *Config {
	return &Config{
		UnsatBuffer:              10,
		MinRatio:                 2.0,
		SearchIntervalMinutes:    30,
		LinkIntervalMinutes:      10,
		GoodreadsIntervalMinutes: 60,
		AudioTypes:               []string{"m4b", "m4a", "mp3", "flac", "ogg"},
		EbookTypes:               []string{"epub", "mobi", "azw3", "pdf"},
		Host:                     "0.0.0.0",
		Port:                     7475,
		LogLevel:                 "info",
		LogMaxSize:               50,
		LogMaxBackups:            3,
		MetricsHost:              "127.0.0.1",
		MetricsPort:              9074,
	}
}
