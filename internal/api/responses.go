package api

import (
	"time"

	"github.com/lightwatcher/lightwatcher/internal/model"
)

// Version is the service version reported in the api envelope and the
// welcome message. Overridden at build time.
var Version = "0.0.1"

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func newAPIStatus() model.APIStatus {
	return model.APIStatus{
		Version: Version,
		CacheStatus: model.CacheStatus{
			CachedAt: model.CacheInfo{
				Date:         time.Now().UTC(),
				TimezoneType: "UTC",
				Timezone:     "UTC",
			},
		},
	}
}

func markCached(api *model.APIStatus, at time.Time) {
	api.ResultFromCache = true
	api.CacheStatus.CachedAt = model.CacheInfo{
		Date:         at.UTC(),
		TimezoneType: "UTC",
		Timezone:     "UTC",
	}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	API    model.APIStatus  `json:"api"`
	Cached time.Time        `json:"cached_at"`
	Status model.BirdStatus `json:"status"`
	TTL    time.Time        `json:"ttl"`
}

// NewStatusResponse wraps a daemon status in a fresh envelope.
func NewStatusResponse(status model.BirdStatus, ttl time.Duration) *StatusResponse {
	now := time.Now().UTC()
	return &StatusResponse{
		API:    newAPIStatus(),
		Cached: now,
		Status: status,
		TTL:    now.Add(ttl),
	}
}

func (r *StatusResponse) MarkCached(at time.Time) {
	markCached(&r.API, at)
	r.Cached = at.UTC()
}

func (r *StatusResponse) CachedAt() time.Time { return r.Cached }

// Clone returns an independent copy.
func (r *StatusResponse) Clone() *StatusResponse {
	clone := *r
	return &clone
}

// ProtocolsResponse is the body of GET /protocols and /protocols/bgp.
type ProtocolsResponse struct {
	API       model.APIStatus    `json:"api"`
	Cached    time.Time          `json:"cached_at"`
	Protocols model.ProtocolsMap `json:"protocols"`
}

// NewProtocolsResponse wraps a protocols map in a fresh envelope.
func NewProtocolsResponse(protocols model.ProtocolsMap) *ProtocolsResponse {
	return &ProtocolsResponse{
		API:       newAPIStatus(),
		Cached:    time.Now().UTC(),
		Protocols: protocols,
	}
}

func (r *ProtocolsResponse) MarkCached(at time.Time) {
	markCached(&r.API, at)
	r.Cached = at.UTC()
}

func (r *ProtocolsResponse) CachedAt() time.Time { return r.Cached }

// Clone returns a copy with its own protocols map. The protocol records
// themselves are shared and treated as immutable once parsed.
func (r *ProtocolsResponse) Clone() *ProtocolsResponse {
	clone := *r
	clone.Protocols = make(model.ProtocolsMap, len(r.Protocols))
	for id, p := range r.Protocols {
		clone.Protocols[id] = p
	}
	return &clone
}

// RoutesResponse is the body of every routes endpoint. The order of
// Routes is unspecified: blocks are decoded concurrently and aggregated
// as they complete.
type RoutesResponse struct {
	API    model.APIStatus `json:"api"`
	Cached time.Time       `json:"cached_at"`
	Routes []model.Route   `json:"routes"`
}

// NewRoutesResponse wraps a route list in a fresh envelope.
func NewRoutesResponse(routes []model.Route) *RoutesResponse {
	if routes == nil {
		routes = []model.Route{}
	}
	return &RoutesResponse{
		API:    newAPIStatus(),
		Cached: time.Now().UTC(),
		Routes: routes,
	}
}

func (r *RoutesResponse) MarkCached(at time.Time) {
	markCached(&r.API, at)
	r.Cached = at.UTC()
}

func (r *RoutesResponse) CachedAt() time.Time { return r.Cached }

// Clone returns a copy with its own route slice.
func (r *RoutesResponse) Clone() *RoutesResponse {
	clone := *r
	clone.Routes = make([]model.Route, len(r.Routes))
	copy(clone.Routes, r.Routes)
	return &clone
}

// HealthResponse is the body of GET /healthz. Unlike the other endpoints
// a daemon failure is not an error here: it is the payload.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	BirdSocket string            `json:"bird_socket"`
	BirdStatus *model.BirdStatus `json:"bird_status,omitempty"`
	Error      *string           `json:"error,omitempty"`
	BirdError  *string           `json:"bird_error,omitempty"`
}
