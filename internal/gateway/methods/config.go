package methods

import (
	"context"
	"sync/atomic"

	"github.com/nextlevelbuilder/a11ylens/internal/config"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// ConfigMethods handles config.get. Secrets are masked.
type ConfigMethods struct {
	cfg     atomic.Pointer[config.Config]
	cfgPath string
}

func NewConfigMethods(cfg *config.Config, cfgPath string) *ConfigMethods {
	m := &ConfigMethods{cfgPath: cfgPath}
	m.cfg.Store(cfg)
	return m
}

// Set swaps the reported config after a reload.
func (m *ConfigMethods) Set(cfg *config.Config) { m.cfg.Store(cfg) }

func (m *ConfigMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodConfigGet, m.handleGet)
}

func (m *ConfigMethods) handleGet(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	cfg := m.cfg.Load()
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"config": cfg.MaskedCopy(),
		"hash":   cfg.Hash(),
		"path":   m.cfgPath,
	}))
}
