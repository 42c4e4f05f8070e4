package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/mapapi"
)

// dryRunClient wraps a MapClient and logs write operations instead of executing them.
type dryRunClient struct {
	client  MapClient
	logger  *slog.Logger
	counter uint64
}

// newDryRunClient creates a new dryRunClient that wraps the given MapClient.
func newDryRunClient(client MapClient, logger *slog.Logger) *dryRunClient {
	return &dryRunClient{
		client: client,
		logger: logger,
	}
}

// CreateEstablishment logs what would be created and returns a fake ID.
func (d *dryRunClient) CreateEstablishment(_ context.Context, establishment *mapapi.Establishment) (string, error) {
	fakeID := d.nextFakeID("establishment")

	d.logger.Info("[DRY-RUN] would create establishment",
		"fake_id", fakeID,
		"name", establishment.Name,
		"lat", establishment.Lat,
		"lon", establishment.Lon,
		"tags", establishment.Tags)

	return fakeID, nil
}

// Health delegates to the real client.
func (d *dryRunClient) Health(ctx context.Context) (*mapapi.Health, error) {
	return d.client.Health(ctx)
}

// UpdateEstablishment logs what would be updated and returns nil.
func (d *dryRunClient) UpdateEstablishment(_ context.Context, mapID string, establishment *mapapi.Establishment) error {
	d.logger.Info("[DRY-RUN] would update establishment",
		"map_id", mapID,
		"name", establishment.Name,
		"tags", establishment.Tags)

	return nil
}

// nextFakeID generates a unique fake ID for dry-run operations.
func (d *dryRunClient) nextFakeID(prefix string) string {
	n := atomic.AddUint64(&d.counter, 1)
	return fmt.Sprintf("dry-run-%s-%d", prefix, n)
}
