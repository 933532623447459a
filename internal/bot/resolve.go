package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
)

// Source is a direct download link and the title to store it under.
type Source struct {
	Title string
	URL   string
}

type Resolver interface {
	Resolve(ctx context.Context, link string) (Source, error)
}

// DirectResolver downloads the link itself and names it after the last path
// segment, or the host when the link has no path.
type DirectResolver struct{}

func (DirectResolver) Resolve(_ context.Context, link string) (Source, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Source{}, err
	}
	title := path.Base(u.Path)
	if title == "/" || title == "." {
		title = u.Hostname()
	}
	return Source{Title: title, URL: link}, nil
}

var ErrNoDownloadLink = errors.New("no download link in resolver response")

const preferredResolution = "Fast Download"

// APIResolver asks a link-resolving service for the file title and a direct link.
// The service answers GET <endpoint>?url=<link> with
// {"response":[{"title":"...","resolutions":{"Fast Download":"https://..."}}]}.
type APIResolver struct {
	endpoint string
	client   *http.Client
}

func NewAPIResolver(endpoint string, client *http.Client) *APIResolver {
	return &APIResolver{endpoint: endpoint, client: client}
}

type resolverResponse struct {
	Response []struct {
		Title       string            `json:"title"`
		Resolutions map[string]string `json:"resolutions"`
	} `json:"response"`
}

func (r *APIResolver) Resolve(ctx context.Context, link string) (Source, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return Source{}, fmt.Errorf("resolver endpoint: %w", err)
	}
	q := u.Query()
	q.Set("url", link)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Source{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Source{}, fmt.Errorf("resolver request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Source{}, fmt.Errorf("resolver request failed with status %d", resp.StatusCode)
	}

	var body resolverResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Source{}, fmt.Errorf("invalid resolver response: %w", err)
	}
	if len(body.Response) == 0 {
		return Source{}, ErrNoDownloadLink
	}
	item := body.Response[0]
	if link := item.Resolutions[preferredResolution]; link != "" {
		return Source{Title: item.Title, URL: link}, nil
	}
	keys := make([]string, 0, len(item.Resolutions))
	for k := range item.Resolutions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if item.Resolutions[k] != "" {
			return Source{Title: item.Title, URL: item.Resolutions[k]}, nil
		}
	}
	return Source{}, ErrNoDownloadLink
}
