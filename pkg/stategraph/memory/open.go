package memory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	backend "github.com/redis/go-redis/v9"
)

// ErrUnsupportedScheme indicates a store URI with an unknown scheme.
var ErrUnsupportedScheme = errors.New("unsupported memory store scheme")

// Open creates a store from a URI. Supported forms:
//
//	memory://
//	file:///var/lib/stategraph/memory.json
//	redis://host:6379/0?key=agent:memory
//
// The returned close function releases connections the store owns.
func Open(ctx context.Context, uri string) (Store, func() error, error) {
	noop := func() error { return nil }

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q has no scheme", ErrUnsupportedScheme, uri)
	}

	switch strings.ToLower(scheme) {
	case "memory", "mem":
		return NewInMemory(), noop, nil

	case "file":
		if rest == "" {
			return nil, nil, fmt.Errorf("file memory uri %q has no path", uri)
		}
		fs, err := NewFileStore(rest)
		if err != nil {
			return nil, nil, err
		}
		return fs, noop, nil

	case "redis", "rediss":
		u, err := url.Parse(uri)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis uri: %w", err)
		}
		q := u.Query()
		hashKey := q.Get("key")
		q.Del("key")
		u.RawQuery = q.Encode()

		opts, err := backend.ParseURL(u.String())
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis uri: %w", err)
		}
		client := backend.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return NewRedisStore(client, hashKey), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}
