// Package geocode resolves coordinates to addresses and elevations,
// caching results by rounded coordinate pair so repeated and nearby
// lookups do not hit the upstream again.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	msgpack "gopkg.in/vmihailenco/msgpack.v2"
)

// keyPrecision rounds coordinates to ~11 m before keying the cache, so
// jittering GPS fixes share an entry.
const keyPrecision = "%.4f"

// Cache is the lookaside store. Misses and backend failures are both
// "not found": caching is best effort and never fails a lookup.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// RedisCache backs the cache with redis.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps a redis client. ttl of zero means entries never
// expire.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.WithField("err", err).Debug("geocode cache get failed")
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		log.WithField("err", err).Debug("geocode cache set failed")
	}
}

// entry is the msgpack-encoded cache value.
type entry struct {
	Address   string  `msgpack:"address"`
	Elevation float64 `msgpack:"elevation"`
}

// Client looks up reverse-geocode and elevation data over HTTP with a
// cache in front.
type Client struct {
	http         *http.Client
	cache        Cache
	geocodeURL   string
	elevationURL string
}

// NewClient builds a client. The URL parameters are the upstream
// endpoints; lat/lon are appended as query parameters.
func NewClient(cache Cache, geocodeURL, elevationURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		cache:        cache,
		geocodeURL:   geocodeURL,
		elevationURL: elevationURL,
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

type elevationResponse struct {
	Results []struct {
		Elevation float64 `json:"elevation"`
	} `json:"results"`
}

// ReverseGeocode returns a human-readable address for a coordinate.
// Upstream failure yields an empty address and an error; the caller
// typically renders the bare coordinates instead.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	key := fmt.Sprintf("geo:rev:"+keyPrecision+":"+keyPrecision, lat, lon)
	if e, ok := c.cached(ctx, key); ok {
		return e.Address, nil
	}

	var resp reverseResponse
	endpoint := fmt.Sprintf("%s?lat=%f&lon=%f&format=json", c.geocodeURL, lat, lon)
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return "", fmt.Errorf("reverse geocode failed: %w", err)
	}

	c.store(ctx, key, entry{Address: resp.DisplayName})
	return resp.DisplayName, nil
}

// Elevation returns the terrain elevation for a coordinate in meters.
func (c *Client) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	key := fmt.Sprintf("geo:elev:"+keyPrecision+":"+keyPrecision, lat, lon)
	if e, ok := c.cached(ctx, key); ok {
		return e.Elevation, nil
	}

	var resp elevationResponse
	endpoint := fmt.Sprintf("%s?locations=%f,%f", c.elevationURL, lat, lon)
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, fmt.Errorf("elevation lookup failed: %w", err)
	}
	if len(resp.Results) == 0 {
		return 0, fmt.Errorf("elevation lookup returned no results")
	}

	c.store(ctx, key, entry{Elevation: resp.Results[0].Elevation})
	return resp.Results[0].Elevation, nil
}

func (c *Client) cached(ctx context.Context, key string) (entry, bool) {
	if c.cache == nil {
		return entry{}, false
	}
	raw, ok := c.cache.Get(ctx, key)
	if !ok {
		return entry{}, false
	}
	var e entry
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		log.WithField("err", err).Debug("discarding undecodable geocode cache entry")
		return entry{}, false
	}
	return e, true
}

func (c *Client) store(ctx context.Context, key string, e entry) {
	if c.cache == nil {
		return
	}
	raw, err := msgpack.Marshal(e)
	if err != nil {
		log.WithField("err", err).Debug("failed to encode geocode cache entry")
		return
	}
	c.cache.Set(ctx, key, raw)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}
