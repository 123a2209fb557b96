// Package cache memoises id lookups for a model until a write to that model
// invalidates them.
package cache

import (
	"context"
	"sync"

	gocrud "github.com/tender-barbarian/go-crud"
	"github.com/tender-barbarian/nua/repository"
)

type Cache[M gocrud.Model] struct {
	ids sync.Map
}

func NewCache[M gocrud.Model]() *Cache[M] {
	return &Cache[M]{}
}

// InvalidateCache matches go-crud's OnMutate hook signature.
func (c *Cache[M]) InvalidateCache(context.Context) {
	c.ids.Range(func(key, _ any) bool {
		c.ids.Delete(key)
		return true
	})
}

func (c *Cache[M]) LookupID(ctx context.Context, qr repository.Querier, table, column, value string) (int, error) {
	key := table + ":" + column + ":" + value

	if id, ok := c.ids.Load(key); ok {
		return id.(int), nil
	}

	id, err := qr.LookupID(ctx, table, column, value)
	if err != nil {
		return 0, err
	}

	c.ids.Store(key, id)
	return id, nil
}
