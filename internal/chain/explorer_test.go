package chain

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, height int, hash string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "getBlockCount" {
			http.Error(w, "unknown query", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"blockcount":%d}`, height)
	})
	mux.HandleFunc(fmt.Sprintf("/block-index/%d", height), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"blockHash":%q}`, hash)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestExplorer(t *testing.T) {
	srv := testServer(t, 414500, "000000000000000003b1ce")
	e := NewExplorer(srv.URL)

	height, err := e.CurrentHeight()
	require.NoError(t, err)
	require.Equal(t, 414500, height)

	hash, err := e.BlockHash(height)
	require.NoError(t, err)
	require.Equal(t, "000000000000000003b1ce", hash)
}

func TestExplorerBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	e := NewExplorer(srv.URL)
	_, err := e.CurrentHeight()
	require.Error(t, err)
	_, err = e.BlockHash(1)
	require.Error(t, err)
}

func TestExplorerBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	t.Cleanup(srv.Close)

	e := NewExplorer(srv.URL)
	_, err := e.CurrentHeight()
	require.Error(t, err)
}

func TestExplorerEmptyHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	e := NewExplorer(srv.URL)
	_, err := e.BlockHash(7)
	require.Error(t, err)
}

func TestExplorerDefaultURL(t *testing.T) {
	e := NewExplorer("")
	require.Equal(t, DefaultExplorerURL, e.base)
}
