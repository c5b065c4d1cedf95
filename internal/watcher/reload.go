package watcher

import "go.uber.org/zap"

// Loader reloads state from a file.
type Loader interface {
	LoadFile(path string) error
}

// Invalidator drops state derived from what a Loader loads.
type Invalidator interface {
	Invalidate()
}

// ReloadOnChange returns an onChange callback that reloads path into loader
// and then invalidates every dependent cache. A failed load keeps the
// previous state and leaves the caches alone.
func ReloadOnChange(loader Loader, logger *zap.Logger, deps ...Invalidator) func(path string) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(path string) {
		if err := loader.LoadFile(path); err != nil {
			logger.Warn("reload failed, keeping previous version", zap.String("path", path), zap.Error(err))
			return
		}
		for _, d := range deps {
			d.Invalidate()
		}
		logger.Info("reloaded", zap.String("path", path))
	}
}
