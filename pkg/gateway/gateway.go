// Package gateway implements the Data Gateway and Leakage Guard, §4.5: the
// single chokepoint for every external read consumed by the Simulation
// Engine, enforcing temporal isolation and recording an append-only manifest.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/scenariograph/predictive-sim/pkg/model"
	"github.com/scenariograph/predictive-sim/pkg/simerrors"
)

// Context is the per-request DataGatewayContext, §4.5.
type Context struct {
	TenantID       model.ID
	ProjectID      *model.ID
	RunID          *model.ID
	CutoffTime     *time.Time
	IsolationLevel model.IsolationLevel
	TemporalMode   model.TemporalMode
}

// SourceConfig is the registered configuration for one external data source.
type SourceConfig struct {
	Name               string
	EarliestAvailableAt time.Time
	HasTemporalMetadata bool
	RateLimit          rate.Limit // requests per second
	Burst              int
}

// Record is one raw record returned by a data fetcher before the Leakage
// Guard filters it. The map is the record's payload; when a time dimension
// is declared the guard reads the record's timestamp from r[timestampField].
type Record map[string]any

// DataFetcher retrieves raw records for one request; the gateway never
// fetches data itself.
type DataFetcher func(ctx context.Context, endpoint string, params map[string]any) ([]Record, error)

// Response is the DataGatewayResponse returned by Request, §4.5.
type Response struct {
	Data            []Record
	RecordCount     int
	PayloadHash     string
	ManifestEntryID model.ID
}

// ManifestEntry is one append-only, queryable-by-run audit record, §4.5.
type ManifestEntry struct {
	ID              model.ID
	TenantID        model.ID
	RunID           *model.ID
	SourceName      string
	Endpoint        string
	ParamsNormalized string
	CutoffTime      *time.Time
	PayloadHash     string
	RecordCount     int
	CapturedAt      time.Time
}

// ManifestStore persists append-only ManifestEntry records.
type ManifestStore interface {
	Append(ctx context.Context, e ManifestEntry) error
	ListByRun(ctx context.Context, runID model.ID) ([]ManifestEntry, error)
}

// Gateway is the single chokepoint every data access goes through, §4.5.
type Gateway struct {
	sources  map[string]SourceConfig
	limiters map[string]*rate.Limiter
	manifest ManifestStore

	blocked        int64
	leakageDetected bool
}

// New constructs a Gateway with the given registered sources.
func New(sources []SourceConfig, manifest ManifestStore) *Gateway {
	g := &Gateway{
		sources:  make(map[string]SourceConfig, len(sources)),
		limiters: make(map[string]*rate.Limiter, len(sources)),
		manifest: manifest,
	}
	for _, s := range sources {
		g.sources[s.Name] = s
		limit := s.RateLimit
		if limit <= 0 {
			limit = rate.Inf
		}
		burst := s.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiters[s.Name] = rate.NewLimiter(limit, burst)
	}
	return g
}

// Stats returns the current blocked-access-attempt count and whether any
// leakage was detected, surfaced in Run.outputs.leakage_guard_stats, §4.5.
func (g *Gateway) Stats() model.LeakageGuardStats {
	return model.LeakageGuardStats{BlockedAccessAttempts: g.blocked, LeakageDetected: g.leakageDetected}
}

// Request is the single entry point for any external read, §4.5. It
// consults the Leakage Guard before ever calling fetcher.
func (g *Gateway) Request(ctx context.Context, sourceName, endpoint string, params map[string]any, gctx Context, fetcher DataFetcher, timestampField string) (*Response, error) {
	src, ok := g.sources[sourceName]
	if !ok {
		return nil, simerrors.New(simerrors.KindSourceBlocked, "", "source "+sourceName+" is not registered")
	}

	if gctx.CutoffTime != nil && src.EarliestAvailableAt.After(*gctx.CutoffTime) {
		g.blocked++
		return nil, simerrors.New(simerrors.KindSourceBlocked, "",
			"source "+sourceName+" has no data available before cutoff_time")
	}

	switch gctx.IsolationLevel {
	case model.IsolationFilter, model.IsolationStrictFail:
		if timestampField == "" {
			g.blocked++
			return nil, simerrors.New(simerrors.KindSourceBlocked, "",
				"isolation level "+strconv.Itoa(int(gctx.IsolationLevel))+" requires a timestamp_field")
		}
	}

	if limiter, ok := g.limiters[sourceName]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return nil, simerrors.Wrap(simerrors.KindSourceBlocked, "", err)
		}
	}

	records, err := fetcher(ctx, endpoint, params)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}

	filtered, dropped, err := g.applyLeakageGuard(records, gctx, timestampField)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		g.blocked += int64(dropped)
		g.leakageDetected = true
	}

	canon, err := json.Marshal(filtered)
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
	}
	sum := sha256.Sum256(canon)
	payloadHash := hex.EncodeToString(sum[:])

	entry := ManifestEntry{
		ID:               model.NewID(),
		TenantID:         gctx.TenantID,
		RunID:            gctx.RunID,
		SourceName:       sourceName,
		Endpoint:         endpoint,
		ParamsNormalized: normalizeParams(params),
		CutoffTime:       gctx.CutoffTime,
		PayloadHash:      payloadHash,
		RecordCount:      len(filtered),
		CapturedAt:       time.Now(),
	}
	if g.manifest != nil {
		if err := g.manifest.Append(ctx, entry); err != nil {
			return nil, simerrors.Wrap(simerrors.KindInternal, "", err)
		}
	}

	return &Response{
		Data:            filtered,
		RecordCount:     len(filtered),
		PayloadHash:     payloadHash,
		ManifestEntryID: entry.ID,
	}, nil
}

// applyLeakageGuard filters records so timestamp_field ≤ cutoff_time per the
// configured isolation level, §4.5 "Isolation levels (semantics)":
//
//	Level 1 (Warn):   no timestamp required; access merely noted.
//	Level 2 (Filter): timestamp_field required; records beyond cutoff dropped.
//	Level 3 (StrictFail): timestamp_field required; any dropped record fails
//	                      the request outright rather than silently filtering.
func (g *Gateway) applyLeakageGuard(records []Record, gctx Context, timestampField string) ([]Record, int, error) {
	if gctx.CutoffTime == nil || timestampField == "" {
		return records, 0, nil
	}

	var kept []Record
	var dropped int
	for _, r := range records {
		ts, ok := recordTimestamp(r, timestampField)
		if !ok {
			kept = append(kept, r)
			continue
		}
		if ts.After(*gctx.CutoffTime) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}

	if dropped > 0 && gctx.IsolationLevel == model.IsolationStrictFail {
		return nil, dropped, simerrors.New(simerrors.KindFutureDataAccess, "",
			"request would have returned records beyond cutoff_time under isolation level 3")
	}
	return kept, dropped, nil
}

func recordTimestamp(r Record, field string) (time.Time, bool) {
	v, ok := r[field]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func normalizeParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b, _ := json.Marshal(struct {
		Keys   []string
		Params map[string]any
	}{keys, params})
	return string(b)
}
