package wm

import (
	"regexp"
	"strconv"
	"strings"
)

// storageLinePattern matches one quota line of the login banner, e.g.
//
//	Home        36.2GB/930GB (3.9%)     149k/10000k (1.5%)
//
// with a data quota followed by a file-count quota.
var storageLinePattern = regexp.MustCompile(
	`(?i)^\s*(home|ephemeral)\s+` +
		`(\S+?)\s*/\s*(\S+?)\s+\((\d+(?:\.\d+)?)%\)\s+` +
		`(\S+?)\s*/\s*(\S+?)\s+\((\d+(?:\.\d+)?)%\)`)

// parseStorageBanner extracts per-partition quota readings from a login
// banner. Banners vary between clusters and MOTD updates, so anything
// unrecognised is skipped rather than surfaced.
func parseStorageBanner(banner string) map[string]PartitionStats {
	stats := map[string]PartitionStats{}
	for _, line := range strings.Split(banner, "\n") {
		m := storageLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		dataPC, err1 := strconv.ParseFloat(m[4], 64)
		filesPC, err2 := strconv.ParseFloat(m[7], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		stats[strings.ToLower(m[1])] = PartitionStats{
			Data:  Usage{Used: m[2], Total: m[3], PercentUsed: dataPC},
			Files: Usage{Used: m[5], Total: m[6], PercentUsed: filesPC},
		}
	}
	return stats
}
