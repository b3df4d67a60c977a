package job

import "strings"

// Cluster identifies a known HPC installation. The tracking store records
// which cluster a job was registered against so that a supervisor watching
// several hosts can filter its view.
type Cluster string

const (
	ClusterCX3       Cluster = "cx3"
	ClusterCX3Phase2 Cluster = "cx3_phase_2"
	ClusterUnknown   Cluster = "unknown"
)

// ParseCluster normalizes a stored cluster tag.
func ParseCluster(s string) Cluster {
	switch Cluster(s) {
	case ClusterCX3, ClusterCX3Phase2:
		return Cluster(s)
	default:
		return ClusterUnknown
	}
}

// ClusterFromServer maps a PBS server name to a Cluster.
func ClusterFromServer(server string) Cluster {
	switch server {
	case "pbs-7":
		return ClusterCX3Phase2
	case "pbs1.rcs.ic.ac.uk":
		return ClusterCX3
	default:
		return ClusterUnknown
	}
}

// ClusterFromVersion maps `qstat --version` output to a Cluster.
// The version prefixes must be kept up to date as clusters upgrade.
func ClusterFromVersion(output string) Cluster {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) != "pbs_version" {
			continue
		}
		v := strings.TrimSpace(value)
		switch {
		case strings.HasPrefix(v, "19"):
			return ClusterCX3
		case strings.HasPrefix(v, "2024"):
			return ClusterCX3Phase2
		}
	}
	return ClusterUnknown
}
