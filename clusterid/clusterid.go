// Package clusterid derives a short, human-readable label from a MongoDB
// connection URI and uses it to build a deterministic state-file path for a
// given (source, target) pair.
package clusterid

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Label derives a short cluster identifier from a connection URI, falling
// back to a hash of the URI when it can't be parsed into anything more
// readable.
func Label(uri string) string {
	if label, ok := srvLabel(uri); ok {
		return label
	}

	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return fallbackLabel(uri)
	}

	host := u.Hostname()
	if host == "" {
		return fallbackLabel(uri)
	}

	if host == "localhost" || host == "127.0.0.1" {
		port := u.Port()
		if port == "" {
			port = "27017"
		}
		return host + "_" + port
	}

	return firstSegment(host)
}

// srvLabel handles the mongodb+srv:// scheme, whose host portion isn't a
// standard authority net/url can parse cleanly when credentials are present.
func srvLabel(uri string) (string, bool) {
	const scheme = "mongodb+srv://"
	if !strings.HasPrefix(uri, scheme) {
		return "", false
	}

	rest := uri[len(scheme):]
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	if end := strings.IndexAny(rest, "/?"); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return "", false
	}
	return firstSegment(rest), true
}

func firstSegment(host string) string {
	if dot := strings.IndexByte(host, '.'); dot >= 0 {
		return host[:dot]
	}
	return host
}

func fallbackLabel(uri string) string {
	sum := md5.Sum([]byte(uri))
	return hex.EncodeToString(sum[:])[:12]
}

// StatePath builds the deterministic state-file path for a (source, target)
// pair within dir, named so two different replication pairs sharing a
// directory never collide.
func StatePath(dir, sourceURI, targetURI string) string {
	name := fmt.Sprintf(".documentdb_sync_state_%s_to_%s.json", Label(sourceURI), Label(targetURI))
	return filepath.Join(dir, name)
}
