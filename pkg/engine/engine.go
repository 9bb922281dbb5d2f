// Copyright 2025 ZapReg Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine assembles the storage engine from configuration: the
// object store backend, the upload and registry services, and the garbage
// collector. The CLI and any HTTP dispatcher consume the engine rather
// than wiring the services by hand.
package engine

import (
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapreg/pkg/gc"
	"github.com/LeeDigitalWorks/zapreg/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapreg/pkg/registry"
	"github.com/LeeDigitalWorks/zapreg/pkg/types"
	"github.com/LeeDigitalWorks/zapreg/pkg/upload"
)

// Engine bundles the assembled services over one object store backend.
type Engine struct {
	Store    objectstore.Store
	Upload   upload.Service
	Registry registry.Service

	Interlock *gc.Interlock
	Collector *gc.Collector
	GC        *gc.Service
}

// New builds an engine from configuration. The config is defaulted and
// validated first, so a zero-valued knob never reaches a service.
func New(cfg *types.Config) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := objectstore.New(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	uploadSvc, err := upload.NewService(upload.Config{
		Store:      store,
		Mode:       cfg.PushCompatibilityMode,
		StateTTL:   time.Duration(cfg.StateTTL),
		ScratchTTL: time.Duration(cfg.ScratchTTL),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create upload service: %w", err)
	}

	interlock := gc.NewInterlock(store, time.Duration(cfg.ScratchTTL))

	registrySvc, err := registry.NewService(registry.Config{
		Store:     store,
		Interlock: interlock,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create registry service: %w", err)
	}

	collector := gc.NewCollector(store, interlock)

	return &Engine{
		Store:     store,
		Upload:    uploadSvc,
		Registry:  registrySvc,
		Interlock: interlock,
		Collector: collector,
		GC: gc.NewService(gc.Config{
			Store:     store,
			Collector: collector,
			Interval:  time.Duration(cfg.GCInterval),
		}),
	}, nil
}

// Close stops the collector loop and releases the backend.
func (e *Engine) Close() error {
	e.GC.Stop()
	return e.Store.Close()
}
