package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/wnt/lotkeeper/internal/models"
)

const directoryKey = "directory"

// DefaultDirectoryLoadTimeout bounds one directory download
const DefaultDirectoryLoadTimeout = 8 * time.Second

// DirectorySource lists contract addresses (lowercase) and their price identifiers
type DirectorySource interface {
	ListAssetIDs(ctx context.Context) (map[string]string, error)
}

// DirectoryCache persists a loaded directory between runs
type DirectoryCache interface {
	LoadDirectory(ctx context.Context) (map[string]string, bool, error)
	StoreDirectory(ctx context.Context, ids map[string]string) error
}

// Directory maps ledger asset identifiers to price provider identifiers.
// The mapping is loaded at most once at a time: concurrent callers share one
// in-flight load, and a failed load is not remembered so the next caller
// retries.
type Directory struct {
	source      DirectorySource
	cache       DirectoryCache
	nativeID    string
	loadTimeout time.Duration
	logger      zerolog.Logger

	group singleflight.Group
	mutex sync.RWMutex
	ids   map[string]string
}

// NewDirectory creates a directory. cache may be nil.
func NewDirectory(source DirectorySource, cache DirectoryCache, nativeID string, logger zerolog.Logger) *Directory {
	return &Directory{
		source:      source,
		cache:       cache,
		nativeID:    nativeID,
		loadTimeout: DefaultDirectoryLoadTimeout,
		logger:      logger.With().Str("component", "asset_directory").Logger(),
	}
}

// Resolve returns the price identifier of every asset it knows about.
// Unknown assets are simply absent from the result.
func (d *Directory) Resolve(ctx context.Context, assetIDs []string) (map[string]string, error) {
	aliases := make(map[string]string, len(assetIDs))

	needsDirectory := false
	for _, asset := range assetIDs {
		if asset == models.NativeAssetID {
			if d.nativeID != "" {
				aliases[asset] = d.nativeID
			}
			continue
		}
		needsDirectory = true
	}
	if !needsDirectory {
		return aliases, nil
	}

	ids, err := d.load(ctx)
	if err != nil {
		return aliases, err
	}

	for _, asset := range assetIDs {
		if id, ok := ids[strings.ToLower(asset)]; ok {
			aliases[asset] = id
		}
	}
	return aliases, nil
}

// Reset drops the loaded mapping so the next Resolve reloads it
func (d *Directory) Reset() {
	d.mutex.Lock()
	d.ids = nil
	d.mutex.Unlock()
}

func (d *Directory) loaded() map[string]string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.ids
}

func (d *Directory) load(ctx context.Context) (map[string]string, error) {
	if ids := d.loaded(); ids != nil {
		return ids, nil
	}

	ch := d.group.DoChan(directoryKey, func() (interface{}, error) {
		if ids := d.loaded(); ids != nil {
			return ids, nil
		}

		// the load outlives any single caller giving up on it
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.loadTimeout)
		defer cancel()

		ids, err := d.fetch(loadCtx)
		if err != nil {
			return nil, err
		}

		d.mutex.Lock()
		d.ids = ids
		d.mutex.Unlock()
		return ids, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("failed to load asset directory: %w", res.Err)
		}
		return res.Val.(map[string]string), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Directory) fetch(ctx context.Context) (map[string]string, error) {
	if d.cache != nil {
		ids, ok, err := d.cache.LoadDirectory(ctx)
		switch {
		case err != nil:
			d.logger.Warn().Err(err).Msg("Failed to read cached asset directory")
		case ok:
			d.logger.Debug().Int("assets", len(ids)).Msg("Loaded asset directory from cache")
			return ids, nil
		}
	}

	ids, err := d.source.ListAssetIDs(ctx)
	if err != nil {
		return nil, err
	}

	d.logger.Info().Int("assets", len(ids)).Msg("Loaded asset directory from provider")

	if d.cache != nil {
		if err := d.cache.StoreDirectory(ctx, ids); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to cache asset directory")
		}
	}
	return ids, nil
}
