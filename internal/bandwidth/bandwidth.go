// Package bandwidth measures client network throughput and caches the
// result on disk, so repeated runs do not repeat the measurement.
package bandwidth

import (
	"context"
	"encoding/json"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("bandwidth")

// Result holds measured throughput in bits per second.
type Result struct {
	Download int64 `json:"download"`
	Upload   int64 `json:"upload"`
}

// Measurer performs a single bandwidth measurement.
type Measurer interface {
	Measure(ctx context.Context) (Result, error)
}

// Cache wraps a Measurer with a JSON file cache. A cached result is reused
// only when both fields parse as valid numbers; anything else triggers a
// fresh measurement that replaces the cache.
type Cache struct {
	path string
	m    Measurer
}

func NewCache(path string, m Measurer) *Cache {
	return &Cache{path: path, m: m}
}

func (c *Cache) Measure(ctx context.Context) (Result, error) {
	if r, ok := c.load(); ok {
		log.Debugf("using cached bandwidth measurement from %s", c.path)
		return r, nil
	}

	r, err := c.m.Measure(ctx)
	if err != nil {
		return Result{}, err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return Result{}, xerrors.Errorf("failed to encode bandwidth result: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return Result{}, xerrors.Errorf("failed to write bandwidth cache: %w", err)
	}
	return r, nil
}

func (c *Cache) load() (Result, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return Result{}, false
	}

	var raw map[string]json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, false
	}

	var r Result
	for key, dst := range map[string]*int64{"download": &r.Download, "upload": &r.Upload} {
		num, ok := raw[key]
		if !ok {
			return Result{}, false
		}
		v, err := num.Int64()
		if err != nil {
			return Result{}, false
		}
		*dst = v
	}
	return r, true
}
