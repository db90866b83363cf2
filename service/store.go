package service

import (
	"fmt"

	"github.com/rushteam/recore/config"
	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/store"
)

// BuildStore 按配置创建 KV 存储后端。
func BuildStore(cfg *config.Config) (core.KeyValueStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		return store.NewRedisStore(cfg.Store.RedisAddr, cfg.Store.RedisDB)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Store.Backend)
	}
}
