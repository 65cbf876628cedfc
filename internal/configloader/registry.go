// Package configloader locates configuration files and keeps the loaded
// configuration instances of geistbind. The daemon, bindctl and shared
// packages such as logging look their settings up by type:
//
//	configloader.SetConfig(&cfg.Logger)
//	lc := configloader.MustGetConfig[*logging.Config]()
package configloader

import (
	"fmt"
	"reflect"
	"sync"
)

var (
	mu      sync.RWMutex
	configs = map[reflect.Type]any{}
)

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// RegisterConfig stores cfg as the instance of type T. It panics if T is
// already registered.
func RegisterConfig[T any](cfg T) {
	t := typeOf[T]()
	mu.Lock()
	defer mu.Unlock()
	if _, ok := configs[t]; ok {
		panic(fmt.Sprintf("config already registered for type %v", t))
	}
	configs[t] = cfg
}

// SetConfig stores cfg as the instance of type T, replacing package defaults
// registered earlier.
func SetConfig[T any](cfg T) {
	mu.Lock()
	configs[typeOf[T]()] = cfg
	mu.Unlock()
}

// MustGetConfig returns the instance of type T and panics if there is none.
func MustGetConfig[T any]() T {
	cfg, ok := TryGetConfig[T]()
	if !ok {
		panic(fmt.Sprintf("no config registered for type %v", typeOf[T]()))
	}
	return cfg
}

// TryGetConfig returns the instance of type T, if any.
func TryGetConfig[T any]() (T, bool) {
	mu.RLock()
	v, ok := configs[typeOf[T]()]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
