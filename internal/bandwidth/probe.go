package bandwidth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

const (
	probeTimeout    = 10 * time.Second
	uploadProbeSize = 512 * 1024
)

// HTTPProbe measures throughput against plain HTTP endpoints: a timed GET of
// DownloadURL and a timed POST of pseudo-payload to UploadURL.
type HTTPProbe struct {
	DownloadURL string
	UploadURL   string
	Client      *http.Client
}

func (p *HTTPProbe) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *HTTPProbe) Measure(ctx context.Context) (Result, error) {
	down, err := p.download(ctx)
	if err != nil {
		return Result{}, err
	}
	up, err := p.upload(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Download: down, Upload: up}, nil
}

func (p *HTTPProbe) download(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.DownloadURL, nil)
	if err != nil {
		return 0, xerrors.Errorf("bad download probe url: %w", err)
	}

	start := time.Now()
	resp, err := p.client().Do(req)
	if err != nil {
		return 0, xerrors.Errorf("download probe failed: %w", err)
	}
	defer resp.Body.Close()

	// A timed-out copy still measures the bytes that arrived.
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil && ctx.Err() == nil {
		return 0, xerrors.Errorf("download probe read failed: %w", err)
	}
	return bitsPerSecond(n, time.Since(start)), nil
}

func (p *HTTPProbe) upload(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	payload := bytes.Repeat([]byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"), uploadProbeSize/36)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.UploadURL, bytes.NewReader(payload))
	if err != nil {
		return 0, xerrors.Errorf("bad upload probe url: %w", err)
	}

	start := time.Now()
	resp, err := p.client().Do(req)
	if err != nil {
		return 0, xerrors.Errorf("upload probe failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return bitsPerSecond(int64(len(payload)), time.Since(start)), nil
}

func bitsPerSecond(n int64, d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(float64(n*8) / d.Seconds())
}
