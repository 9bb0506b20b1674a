// Package kv provides a Redis-like key-value store abstraction. The memory
// subpackage implements it for the cache fallback used when Redis is not
// reachable.
//
// Example usage:
//
//	store := memory.New(30 * time.Second)
//	defer store.Close()
//
//	ctx := context.Background()
//	if err := store.Set(ctx, "key", []byte("value"), 10*time.Second); err != nil {
//		log.Fatal(err)
//	}
//
//	value, err := store.Get(ctx, "key")
//	if errors.Is(err, kv.ErrNotFound) {
//		log.Println("Key not found")
//	}
//
// Expired keys are dropped lazily on access and by a background janitor.
package kv
