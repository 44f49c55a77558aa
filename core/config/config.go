package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once
	dotenvErr  error
	cache      sync.Map // reflect.Type -> any (a T value)
)

// loadDotenv reads .env from the working directory once. A missing file is
// not an error; variables already set in the environment win.
func loadDotenv() error {
	dotenvOnce.Do(func() {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			dotenvErr = fmt.Errorf("load .env: %w", err)
		}
	})
	return dotenvErr
}

// Load fills cfg from the environment. The first successful load of a type
// is cached and copied into cfg on later calls.
func Load[T any](cfg *T) error {
	typ := reflect.TypeFor[T]()
	if cached, ok := cache.Load(typ); ok {
		*cfg = cached.(T)
		return nil
	}

	if err := loadDotenv(); err != nil {
		return err
	}

	var fresh T
	if err := env.Parse(&fresh); err != nil {
		return fmt.Errorf("parse %s: %w", typ, err)
	}
	actual, _ := cache.LoadOrStore(typ, fresh)
	*cfg = actual.(T)
	return nil
}

// MustLoad is Load that panics on failure. Meant for process startup.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

// Reset drops every cached configuration. Tests use it to reload after
// changing the environment.
func Reset() {
	cache.Clear()
}
