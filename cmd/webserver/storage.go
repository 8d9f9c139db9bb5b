package main

import (
	"net/http"
	"sync"

	"github.com/saiset-co/sai-webserver/controller"
	"github.com/saiset-co/sai-webserver/types"
)

// storageController keeps values in memory under a path key.
type storageController struct {
	*controller.Base
	values map[string]any
	mu     sync.RWMutex
}

func newStorageController() *storageController {
	sc := &storageController{
		Base:   controller.NewBase("storage", "/storage"),
		values: make(map[string]any),
	}

	sc.Get("/", sc.list).WithName("list")
	sc.Get("/{key}", sc.get).WithName("get")
	sc.Put("/{key}", sc.put).WithName("put")
	sc.Delete("/{key}", sc.delete).WithName("delete")

	return sc
}

func (sc *storageController) list(_ *types.Context, _ ...any) (any, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	keys := make([]string, 0, len(sc.values))
	for key := range sc.values {
		keys = append(keys, key)
	}
	return map[string]any{"keys": keys}, nil
}

func (sc *storageController) get(_ *types.Context, args ...any) (any, error) {
	key, _ := args[0].(string)

	sc.mu.RLock()
	value, ok := sc.values[key]
	sc.mu.RUnlock()

	if !ok {
		return nil, types.NewHTTPError(http.StatusNotFound, "key not found: "+key)
	}
	return map[string]any{"key": key, "value": value}, nil
}

func (sc *storageController) put(c *types.Context, args ...any) (any, error) {
	key, _ := args[0].(string)

	value := c.RequestBody()
	if value == nil {
		value = string(c.RawBody())
	}

	sc.mu.Lock()
	sc.values[key] = value
	sc.mu.Unlock()

	c.SetStatus(http.StatusCreated)
	return map[string]any{"key": key, "value": value}, nil
}

func (sc *storageController) delete(c *types.Context, args ...any) (any, error) {
	key, _ := args[0].(string)

	sc.mu.Lock()
	delete(sc.values, key)
	sc.mu.Unlock()

	c.SetStatus(http.StatusNoContent)
	return nil, nil
}
