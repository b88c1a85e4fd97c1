package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/tilestream/pkg/tile"
)

// ErrEndpoint is returned when a terrain endpoint cannot be resolved.
var ErrEndpoint = errors.New("resolving terrain endpoint")

// TerrainAccept is the Accept header sent with terrain requests.
const TerrainAccept = "application/vnd.quantized-mesh,application/octet-stream;q=0.9"

// Endpoint is a resolved terrain tile server.
type Endpoint struct {
	// URL is the base URL that tile paths are appended to.
	URL string
	// AccessToken is sent as a bearer token when set.
	AccessToken string
	// Version is appended as ?v= when set.
	Version string
	// Attributions are the provider credits, as returned by the server.
	Attributions []string
}

// TileURL returns {base}{z}/{x}/{tmsY}.terrain for a coord in s.
func (e Endpoint) TileURL(c tile.Coord, s tile.Scheme) string {
	base := e.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u := fmt.Sprintf("%s%d/%d/%d.terrain", base, c.Z, c.X, s.TMSY(c))
	if e.Version != "" {
		u += "?v=" + url.QueryEscape(e.Version)
	}
	return u
}

// Header returns the request headers for terrain tiles.
func (e Endpoint) Header() http.Header {
	h := http.Header{}
	h.Set("Accept", TerrainAccept)
	if e.AccessToken != "" {
		h.Set("Authorization", "Bearer "+e.AccessToken)
	}
	return h
}

// EndpointResolver finds the terrain endpoint to load tiles from.
type EndpointResolver interface {
	Resolve(ctx context.Context) (Endpoint, error)
}

// StaticEndpoint resolves to itself.
type StaticEndpoint Endpoint

// Resolve returns the endpoint.
func (s StaticEndpoint) Resolve(context.Context) (Endpoint, error) {
	if s.URL == "" {
		return Endpoint{}, fmt.Errorf("%w: empty url", ErrEndpoint)
	}
	return Endpoint(s), nil
}

// DefaultIonServer is the public Cesium ion API.
const DefaultIonServer = "https://api.cesium.com"

// IonResolver looks up an ion asset's tile endpoint and access token.
// Concurrent callers share one request; a successful result is cached.
type IonResolver struct {
	Server  string
	AssetID int
	Token   string

	fetcher Fetcher
	group   singleflight.Group

	mu       sync.Mutex
	resolved *Endpoint
}

// NewIonResolver creates a resolver for an ion asset.
func NewIonResolver(fetcher Fetcher, server string, assetID int, token string) *IonResolver {
	if server == "" {
		server = DefaultIonServer
	}
	return &IonResolver{Server: strings.TrimSuffix(server, "/"), AssetID: assetID, Token: token, fetcher: fetcher}
}

type ionEndpointResponse struct {
	Type         string `json:"type"`
	URL          string `json:"url"`
	AccessToken  string `json:"accessToken"`
	Attributions []struct {
		HTML string `json:"html"`
	} `json:"attributions"`
}

// Resolve returns the cached endpoint or fetches it. Failures are not cached.
func (r *IonResolver) Resolve(ctx context.Context) (Endpoint, error) {
	r.mu.Lock()
	if r.resolved != nil {
		ep := *r.resolved
		r.mu.Unlock()
		return ep, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("endpoint", func() (any, error) {
		ep, err := r.fetch(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.resolved = &ep
		r.mu.Unlock()
		return ep, nil
	})
	if err != nil {
		return Endpoint{}, err
	}
	return v.(Endpoint), nil
}

func (r *IonResolver) fetch(ctx context.Context) (Endpoint, error) {
	u := fmt.Sprintf("%s/v1/assets/%d/endpoint?access_token=%s", r.Server, r.AssetID, url.QueryEscape(r.Token))
	data, err := r.fetcher.Fetch(ctx, u, http.Header{"Accept": []string{"application/json"}})
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: asset %d: %w", ErrEndpoint, r.AssetID, err)
	}

	var resp ionEndpointResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Endpoint{}, fmt.Errorf("%w: asset %d: decoding response: %w", ErrEndpoint, r.AssetID, err)
	}
	if resp.URL == "" {
		return Endpoint{}, fmt.Errorf("%w: asset %d: response has no url", ErrEndpoint, r.AssetID)
	}

	ep := Endpoint{URL: resp.URL, AccessToken: resp.AccessToken}
	for _, a := range resp.Attributions {
		ep.Attributions = append(ep.Attributions, a.HTML)
	}
	return ep, nil
}
