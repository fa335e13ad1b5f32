// Package chain retrieves block height and hash facts from a public block
// explorer, serving as the audit oracle.
package chain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

const DefaultExplorerURL = "https://blockexplorer.com/api"

// Explorer is a thin client for the block explorer status API.
type Explorer struct {
	base   string
	client *http.Client
}

func NewExplorer(base string) *Explorer {
	if base == "" {
		base = DefaultExplorerURL
	}
	return &Explorer{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *Explorer) get(url string, out interface{}) error {
	resp, err := e.client.Get(url)
	if err != nil {
		return xerrors.Errorf("explorer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return xerrors.Errorf("explorer returned status %d for %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Errorf("failed to decode explorer response: %w", err)
	}
	return nil
}

// CurrentHeight returns the current block count of the chain.
func (e *Explorer) CurrentHeight() (int, error) {
	var status struct {
		BlockCount int `json:"blockcount"`
	}
	if err := e.get(e.base+"/status?q=getBlockCount", &status); err != nil {
		return 0, err
	}
	return status.BlockCount, nil
}

// BlockHash returns the block hash at the given height.
func (e *Explorer) BlockHash(height int) (string, error) {
	var block struct {
		BlockHash string `json:"blockHash"`
	}
	if err := e.get(fmt.Sprintf("%s/block-index/%d", e.base, height), &block); err != nil {
		return "", err
	}
	if block.BlockHash == "" {
		return "", xerrors.Errorf("explorer returned no hash for height %d", height)
	}
	return block.BlockHash, nil
}
