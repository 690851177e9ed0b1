package cache

import (
	"context"
	"strconv"
	"strings"
)

// Namespace versions a family of keys. Bumping the version orphans every key
// built before the bump, so invalidation never has to enumerate list or
// pagination keys. Orphans age out through their own TTL.
type Namespace struct {
	backend Cache
	name    string
}

func NewNamespace(backend Cache, name string) *Namespace {
	return &Namespace{backend: backend, name: name}
}

func (n *Namespace) versionKey() string {
	return n.name + ":version"
}

// Version returns the current namespace version. Backend errors read as
// version 0, which only costs a cache miss.
func (n *Namespace) Version(ctx context.Context) int64 {
	raw, err := n.backend.Get(ctx, n.versionKey())
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Key builds "<name>:v<version>:<parts...>".
func (n *Namespace) Key(ctx context.Context, parts ...string) string {
	b := strings.Builder{}
	b.WriteString(n.name)
	b.WriteString(":v")
	b.WriteString(strconv.FormatInt(n.Version(ctx), 10))
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// Bump invalidates every key in the namespace.
func (n *Namespace) Bump(ctx context.Context) (int64, error) {
	return n.backend.Incr(ctx, n.versionKey())
}
