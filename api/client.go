// Package api talks to the gif providers whose share links get resolved to
// direct media URLs for starboard embeds.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NotiFansly/starboard/internal/apperr"
)

const requestTimeout = 3 * time.Second

type Client struct {
	HTTP      *http.Client
	TenorKey  string
	GiphyKey  string
	TenorBase string
	GiphyBase string
}

func NewClient(tenorKey, giphyKey string) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: requestTimeout},
		TenorKey:  tenorKey,
		GiphyKey:  giphyKey,
		TenorBase: "https://api.tenor.com",
		GiphyBase: "https://api.giphy.com",
	}
}

func (c *Client) sendRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		cancel()
		return nil, apperr.Wrap(apperr.TransientInfra, "api request", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		kind := apperr.Input
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = apperr.TransientInfra
		}
		return nil, apperr.Wrap(kind, "api request", fmt.Errorf("API returned status %d", resp.StatusCode))
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request timeout once the caller closes the body.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
