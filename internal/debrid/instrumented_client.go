package debrid

import (
	"context"

	"github.com/italolelis/debrid_streamer/internal/magnet"
	"github.com/italolelis/debrid_streamer/internal/telemetry"
)

// InstrumentedClient wraps a Client with telemetry.
type InstrumentedClient struct {
	client     Client
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedClient creates a new instrumented debrid client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, clientType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// InstrumentFactory wraps every client built by f.
func InstrumentFactory(f ClientFactory, tel *telemetry.Telemetry, clientType string) ClientFactory {
	return func(apiKey string) Client {
		return NewInstrumentedClient(f(apiKey), tel, clientType)
	}
}

func (c *InstrumentedClient) AddMagnet(ctx context.Context, m magnet.Magnet) (TorrentHandle, error) {
	var handle TorrentHandle

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "add_magnet", func(ctx context.Context) error {
		var err error
		handle, err = c.client.AddMagnet(ctx, m)

		return err
	})

	return handle, err
}

func (c *InstrumentedClient) SelectFiles(ctx context.Context, handle TorrentHandle, selector FileSelector) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "select_files", func(ctx context.Context) error {
		return c.client.SelectFiles(ctx, handle, selector)
	})
}

func (c *InstrumentedClient) TorrentInfo(ctx context.Context, handle TorrentHandle) (*TorrentSnapshot, error) {
	var snapshot *TorrentSnapshot

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "torrent_info", func(ctx context.Context) error {
		var err error
		snapshot, err = c.client.TorrentInfo(ctx, handle)

		return err
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (c *InstrumentedClient) UnrestrictLink(ctx context.Context, restricted string) (*UnrestrictedLink, error) {
	var link *UnrestrictedLink

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "unrestrict_link", func(ctx context.Context) error {
		var err error
		link, err = c.client.UnrestrictLink(ctx, restricted)

		return err
	})
	if err != nil {
		return nil, err
	}

	return link, nil
}
