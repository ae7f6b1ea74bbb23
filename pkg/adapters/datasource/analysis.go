package datasource

import (
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
)

// topTableCount bounds the ranked table lists in analysis and stats.
const topTableCount = 10

// Key-table candidacy: a table qualifies with more than minKeyConnections
// foreign key connections, and the forcedLargestCount largest tables always
// qualify regardless of connections.
const (
	minKeyConnections  = 2
	forcedLargestCount = 5
)

// keyTableScore ranks tables for the analysis overview. Foreign key
// connections dominate; size only breaks ties between similarly connected
// tables.
func keyTableScore(t TableStat) int64 {
	return t.Connections*1000 + t.SizeBytes/1000000
}

// BuildAnalysis assembles the database overview from per-table stats.
// Connectors gather the stats with dialect-specific catalog queries and
// share the ranking here.
func BuildAnalysis(tables []TableStat) *DatabaseAnalysis {
	var totalSize int64
	for _, t := range tables {
		totalSize += t.SizeBytes
	}

	bySize := make([]TableStat, len(tables))
	copy(bySize, tables)
	sort.SliceStable(bySize, func(i, j int) bool {
		return bySize[i].SizeBytes > bySize[j].SizeBytes
	})

	forced := forcedLargestCount
	if forced > len(bySize) {
		forced = len(bySize)
	}

	keyTables := make([]TableStat, 0, topTableCount)
	keyTables = append(keyTables, bySize[:forced]...)

	connected := make([]TableStat, 0, len(bySize))
	for _, t := range bySize[forced:] {
		if t.Connections > minKeyConnections {
			connected = append(connected, t)
		}
	}
	sort.SliceStable(connected, func(i, j int) bool {
		return keyTableScore(connected[i]) > keyTableScore(connected[j])
	})
	for _, t := range connected {
		if len(keyTables) >= topTableCount {
			break
		}
		keyTables = append(keyTables, t)
	}

	sort.SliceStable(keyTables, func(i, j int) bool {
		return keyTableScore(keyTables[i]) > keyTableScore(keyTables[j])
	})

	return &DatabaseAnalysis{
		TableCount:    len(tables),
		TotalSize:     FormatBytes(totalSize),
		KeyTables:     keyTables,
		LargestTables: topN(bySize, topTableCount),
	}
}

// BuildStats assembles size and connectivity statistics. MostConnected
// excludes tables without any foreign key relationship.
func BuildStats(databaseName string, tables []TableStat) *DatabaseStats {
	var totalSize int64
	for _, t := range tables {
		totalSize += t.SizeBytes
	}

	bySize := make([]TableStat, len(tables))
	copy(bySize, tables)
	sort.SliceStable(bySize, func(i, j int) bool {
		return bySize[i].SizeBytes > bySize[j].SizeBytes
	})

	connected := make([]TableStat, 0, len(tables))
	for _, t := range tables {
		if t.Connections > 0 {
			connected = append(connected, t)
		}
	}
	sort.SliceStable(connected, func(i, j int) bool {
		return connected[i].Connections > connected[j].Connections
	})

	return &DatabaseStats{
		DatabaseName:   databaseName,
		TableCount:     len(tables),
		TotalSizeBytes: totalSize,
		TotalSize:      FormatBytes(totalSize),
		LargestTables:  topN(bySize, topTableCount),
		MostConnected:  topN(connected, topTableCount),
	}
}

func topN(tables []TableStat, n int) []TableStat {
	if len(tables) > n {
		tables = tables[:n]
	}
	out := make([]TableStat, len(tables))
	copy(out, tables)
	return out
}

// SearchPatterns expands a table search pattern with its singular and
// plural forms ("user" also matches "users" and vice versa). Results are
// lowercase and deduplicated, original pattern first.
func SearchPatterns(pattern string) []string {
	base := strings.ToLower(strings.TrimSpace(pattern))
	candidates := []string{base, inflection.Singular(base), inflection.Plural(base)}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
