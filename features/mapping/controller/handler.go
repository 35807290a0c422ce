/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/acornett21/ack-multi-tenancy/pkg/logger"
	"github.com/acornett21/ack-multi-tenancy/pkg/metrics"
	"github.com/acornett21/ack-multi-tenancy/pkg/tenant"
	"github.com/acornett21/ack-multi-tenancy/shared/controller/watches"
	"github.com/acornett21/ack-multi-tenancy/shared/events"
	infraerrors "github.com/acornett21/ack-multi-tenancy/shared/infrastructure/errors"
)

// Handler rebuilds the tenant mapping table.
type Handler struct {
	client          client.Reader
	store           *tenant.Store
	eventBus        *events.EventBus
	systemNamespace string
	mapName         string
	log             logr.Logger
}

// HandlerConfig contains configuration for creating a Handler.
type HandlerConfig struct {
	Client          client.Reader
	Store           *tenant.Store
	EventBus        *events.EventBus
	SystemNamespace string
	MapName         string
	Log             logr.Logger
}

// NewHandler creates a new mapping Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		client:          cfg.Client,
		store:           cfg.Store,
		eventBus:        cfg.EventBus,
		systemNamespace: cfg.SystemNamespace,
		mapName:         cfg.MapName,
		log:             cfg.Log,
	}
}

// Rebuild relists every mapping ConfigMap and installs the resulting table.
// Nothing is installed when the content is unchanged, so resyncs do not bump
// the generation or invalidate credentials.
func (h *Handler) Rebuild(ctx context.Context) error {
	log := logger.WithOperation(h.log, logger.OpSync)

	list := &corev1.ConfigMapList{}
	if err := h.client.List(ctx, list, client.InNamespace(h.systemNamespace)); err != nil {
		return infraerrors.NewTransientError("list mapping configmaps", err)
	}

	sources := make([]corev1.ConfigMap, 0, len(list.Items))
	for i := range list.Items {
		if watches.IsMappingConfigMap(&list.Items[i], h.systemNamespace, h.mapName) {
			sources = append(sources, list.Items[i])
		}
	}

	next := tenant.BuildSnapshot(log, sources)
	current := h.store.Snapshot()
	if current.Generation() > 0 && next.Fingerprint() == current.Fingerprint() {
		log.V(1).Info("tenant mapping unchanged", logger.KeyGeneration, current.Generation())
		return nil
	}

	prev := h.store.Replace(next)
	added, removed, changed := next.Diff(prev)
	metrics.SetMapping(next.Len(), next.Skipped(), next.Generation())

	log.Info("installed tenant mapping",
		logger.KeyGeneration, next.Generation(),
		"sources", len(sources),
		"entries", next.Len(),
		"skipped", next.Skipped(),
		"added", len(added), "removed", len(removed), "changed", len(changed))

	if h.eventBus != nil {
		event := events.NewMappingUpdated(next.Generation(), next.Fingerprint(), next.Len(), added, removed, changed)
		if err := h.eventBus.Publish(ctx, event); err != nil {
			log.Error(err, "failed to publish mapping update")
		}
	}
	return nil
}
