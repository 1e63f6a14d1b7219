package localstore

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/charmntreats/addressvault/pkg/database"
)

// Open builds a backend from a DSN:
//
//	file:///var/lib/addressvault   one JSON file per key
//	/var/lib/addressvault          same as file://
//	memory://                      process memory
//	redis://host:6379/0?prefix=av: redis strings under a key prefix
func Open(ctx context.Context, dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("local store dsn is empty")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse local store dsn: %w", err)
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "", "file":
		dir := dsn
		if scheme == "file" {
			dir = filepath.Join(parsed.Host, parsed.Path)
			if parsed.Host == "" {
				dir = parsed.Path
			}
		}
		return NewFileBackend(dir)
	case "memory", "mem":
		return NewMemoryBackend(), nil
	case "redis", "rediss":
		q := parsed.Query()
		prefix := q.Get("prefix")
		q.Del("prefix")
		parsed.RawQuery = q.Encode()

		client, err := database.NewRedisClientFromURL(ctx, parsed.String())
		if err != nil {
			return nil, backendErr("connect redis", err)
		}
		b := NewRedisBackend(client, prefix)
		b.ownsClient = true
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported local store scheme %q", scheme)
	}
}
