package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"mvdan.cc/xurls/v2"
)

var (
	tenorPattern = regexp.MustCompile(`^https?://tenor\.com/view/[a-zA-Z-]+(?P<id>\d+)$`)
	giphyPattern = regexp.MustCompile(`^https?://giphy\.com/gifs/[a-zA-Z-]+-(?P<id>\w+)$`)
	linkPattern  = xurls.Strict()
)

type GifService string

const (
	Tenor GifService = "tenor"
	Giphy GifService = "giphy"
)

// GifID extracts the provider id from a Tenor or Giphy share link.
func GifID(link string) (id string, service GifService, ok bool) {
	if m := tenorPattern.FindStringSubmatch(link); m != nil {
		return m[tenorPattern.SubexpIndex("id")], Tenor, true
	}
	if m := giphyPattern.FindStringSubmatch(link); m != nil {
		return m[giphyPattern.SubexpIndex("id")], Giphy, true
	}
	return "", "", false
}

// GifLinks returns every Tenor or Giphy share link found in text.
func GifLinks(text string) []string {
	var out []string
	for _, link := range linkPattern.FindAllString(text, -1) {
		if _, _, ok := GifID(link); ok {
			out = append(out, link)
		}
	}
	return out
}

// GifURL resolves a share link to a direct media URL. It returns "" without
// error when the link is not a gif link or the provider key is missing.
func (c *Client) GifURL(ctx context.Context, link string) (string, error) {
	id, service, ok := GifID(link)
	if !ok {
		return "", nil
	}
	switch service {
	case Tenor:
		return c.tenor(ctx, id)
	case Giphy:
		return c.giphy(ctx, id)
	}
	return "", nil
}

func (c *Client) tenor(ctx context.Context, id string) (string, error) {
	if c.TenorKey == "" {
		return "", nil
	}
	q := url.Values{"ids": {id}, "key": {c.TenorKey}}
	req, err := http.NewRequest(http.MethodGet, c.TenorBase+"/v1/gifs?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Results []struct {
			Media []struct {
				Gif struct {
					URL string `json:"url"`
				} `json:"gif"`
			} `json:"media"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode tenor response: %w", err)
	}
	if len(result.Results) == 0 || len(result.Results[0].Media) == 0 {
		return "", nil
	}
	return result.Results[0].Media[0].Gif.URL, nil
}

func (c *Client) giphy(ctx context.Context, id string) (string, error) {
	if c.GiphyKey == "" {
		return "", nil
	}
	q := url.Values{"api_key": {c.GiphyKey}}
	req, err := http.NewRequest(http.MethodGet, c.GiphyBase+"/v1/gifs/"+url.PathEscape(id)+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Data struct {
			Images struct {
				FixedHeight struct {
					URL string `json:"url"`
				} `json:"fixed_height"`
			} `json:"images"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode giphy response: %w", err)
	}
	return result.Data.Images.FixedHeight.URL, nil
}
