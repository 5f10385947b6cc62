package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Func is the parser-shaped callee wrapped by Memoize: an expensive
// path-to-value computation.
type Func[T any] func(ctx context.Context, path string) (T, error)

// Memoize wraps fn with a cache-aside lookup against c. The key is a stable
// hash of the prefix and path, so repeated calls for the same input reuse
// the cached result. Persistent tiers return serialized bytes; those are
// decoded back into T, and a value that fails to decode is treated as a
// miss. Errors from fn are returned unchanged and never cached.
func Memoize[T any](c Cache, prefix string, ttl time.Duration, fn Func[T]) Func[T] {
	return func(ctx context.Context, path string) (T, error) {
		key, err := KeyFromArgs(prefix, path)
		if err != nil {
			return fn(ctx, path)
		}

		if cached, ok := c.Get(ctx, key); ok {
			switch value := cached.(type) {
			case T:
				return value, nil
			case []byte:
				var out T
				if err := json.Unmarshal(value, &out); err == nil {
					return out, nil
				}
			}
		}

		out, err := fn(ctx, path)
		if err != nil {
			return out, err
		}
		c.Set(ctx, key, out, ttl)
		return out, nil
	}
}
