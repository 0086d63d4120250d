// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// defaultConfigTemplate is written on first run, commented-out knobs and
// all, matching the teacher's "auto-generated, self-documenting" config
// file convention.
const defaultConfigTemplate = `# config.toml - Auto-generated on first run

# MyAnonamouse user ID used to authenticate tracker requests.
mam_id = ""

# Ratio floor below which grabs pause to protect seeding ratio.
# Default: 2.0
min_ratio = 2.0

# Unsatisfied-torrent slots to keep free below the tracker's limit; a grab
# is refused when it would leave fewer than this.
# Default: 10
unsat_buffer = 10

host = "0.0.0.0"
port = 7475

# Long-lived secret used to sign the web UI session cookie and derive the
# at-rest encryption key for qBittorrent passwords.
# Generate a long random string and keep it stable across restarts.
sessionSecret = ""

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/mlm.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

[httpTimeouts]
#readTimeout = 60
`

var logSettingKeyPattern = map[string]*regexp.Regexp{
	"logPath":       regexp.MustCompile(`^\s*#?\s*logPath\s*=.*$`),
	"logMaxSize":    regexp.MustCompile(`^\s*#?\s*logMaxSize\s*=.*$`),
	"logMaxBackups": regexp.MustCompile(`^\s*#?\s*logMaxBackups\s*=.*$`),
	"logLevel":      regexp.MustCompile(`^\s*#?\s*logLevel\s*=.*$`),
}

// updateLogSettingsInTOML rewrites the commented-or-not logPath/logMaxSize/
// logMaxBackups/logLevel lines in content in place, uncommenting and
// updating them, without appending a new section and without disturbing
// anything after them (e.g. a later [httpTimeouts] table).
func updateLogSettingsInTOML(content, level, path string, maxSize, maxBackups int) string {
	replacements := map[string]string{
		"logPath":       fmt.Sprintf(`logPath = %q`, path),
		"logMaxSize":    fmt.Sprintf("logMaxSize = %d", maxSize),
		"logMaxBackups": fmt.Sprintf("logMaxBackups = %d", maxBackups),
		"logLevel":      fmt.Sprintf(`logLevel = %q`, level),
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []string
	for scanner.Scan() {
		line := scanner.Text()
		replaced := line
		for key, pattern := range logSettingKeyPattern {
			if pattern.MatchString(line) {
				replaced = replacements[key]
				break
			}
		}
		out = append(out, replaced)
	}

	return strings.Join(out, "\n") + "\n"
}
