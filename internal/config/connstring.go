package config

import "strings"

// ConnectionStringMeta is derived, as a pure function, from a connection
// string. It never touches the network.
type ConnectionStringMeta struct {
	IsTLS     bool
	IsCapella bool
	IsDNSSRV  bool
	Protocol  string
	Hosts     []string
}

// ParseConnectionString derives ConnectionStringMeta from a
// "couchbase://host[,host...]" or "couchbases://host[,host...]" string.
func ParseConnectionString(connStr string) ConnectionStringMeta {
	var meta ConnectionStringMeta

	rest := connStr
	switch {
	case strings.HasPrefix(rest, "couchbases://"):
		meta.Protocol = "couchbases"
		meta.IsTLS = true
		rest = strings.TrimPrefix(rest, "couchbases://")
	case strings.HasPrefix(rest, "couchbase://"):
		meta.Protocol = "couchbase"
		rest = strings.TrimPrefix(rest, "couchbase://")
	default:
		meta.Protocol = ""
	}

	// Strip any query string before splitting hosts.
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		rest = rest[:idx]
	}

	if rest == "" {
		return meta
	}

	hostEntries := strings.Split(rest, ",")
	meta.Hosts = make([]string, 0, len(hostEntries))
	for _, h := range hostEntries {
		h = strings.TrimSpace(h)
		if h != "" {
			meta.Hosts = append(meta.Hosts, h)
		}
	}

	meta.IsDNSSRV = len(meta.Hosts) == 1 && !strings.Contains(meta.Hosts[0], ":")

	for _, h := range meta.Hosts {
		bareHost := h
		if idx := strings.IndexByte(bareHost, ':'); idx >= 0 {
			bareHost = bareHost[:idx]
		}
		if strings.HasSuffix(bareHost, "cloud.couchbase.com") {
			meta.IsCapella = true
			break
		}
	}

	return meta
}
