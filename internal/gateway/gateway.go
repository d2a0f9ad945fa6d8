// Package gateway dispatches a tool request to every enabled decision layer
// concurrently and reduces their outcomes to a single decision.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/decision"
	"github.com/clawinfra/toolgate/internal/profile"
	"github.com/clawinfra/toolgate/internal/request"
)

// DefaultLayerTimeout bounds one layer evaluation.
const DefaultLayerTimeout = 5 * time.Second

// LayerResult is one layer's contribution to a response.
type LayerResult struct {
	Layer    string            `json:"layer"`
	Decision decision.Decision `json:"-"`
	Elapsed  time.Duration     `json:"-"`
}

// MarshalJSON flattens the decision into the layer entry.
func (r LayerResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Layer     string `json:"layer"`
		Decision  string `json:"decision"`
		Reason    string `json:"reason"`
		ElapsedMs int64  `json:"elapsed_ms"`
	}{r.Layer, r.Decision.Result.String(), r.Decision.Reason(), r.Elapsed.Milliseconds()})
}

// Response is the combined decision for one request.
type Response struct {
	RequestID string
	Decision  decision.Decision
	Layers    []LayerResult
	// ProfileContext and ProfileFallback describe the active profile when a
	// snapshot source is configured.
	ProfileContext  string
	ProfileFallback bool
	Timestamp       time.Time
}

type wireResponse struct {
	Decision        string        `json:"decision"`
	Approved        bool          `json:"approved"`
	Reason          string        `json:"reason"`
	RequestID       string        `json:"request_id"`
	Layers          []LayerResult `json:"layers,omitempty"`
	ProfileContext  string        `json:"profile_context,omitempty"`
	ProfileFallback bool          `json:"profile_fallback,omitempty"`
	Timestamp       string        `json:"timestamp"`
}

// MarshalJSON emits the tri-state wire form extended with request metadata.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireResponse{
		Decision:        r.Decision.Result.String(),
		Approved:        r.Decision.Approved(),
		Reason:          r.Decision.Reason(),
		RequestID:       r.RequestID,
		Layers:          r.Layers,
		ProfileContext:  r.ProfileContext,
		ProfileFallback: r.ProfileFallback,
		Timestamp:       r.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// SnapshotSource reports the active profile snapshot.
type SnapshotSource interface {
	Active() *profile.Snapshot
}

// Options configures a Gateway.
type Options struct {
	Layers       []Layer
	LayerTimeout time.Duration
	Snapshots    SnapshotSource
	Audit        audit.Recorder
	Logger       *slog.Logger
}

// Gateway is the authorization service object. It holds no global state.
type Gateway struct {
	timeout   time.Duration
	snapshots SnapshotSource
	audit     audit.Recorder
	logger    *slog.Logger

	mu     sync.RWMutex
	layers []Layer

	subMu   sync.Mutex
	subs    map[int]chan Response
	nextSub int
}

// New creates a gateway.
func New(opts Options) *Gateway {
	if opts.LayerTimeout <= 0 {
		opts.LayerTimeout = DefaultLayerTimeout
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		timeout:   opts.LayerTimeout,
		snapshots: opts.Snapshots,
		audit:     opts.Audit,
		logger:    opts.Logger.With("component", "gateway"),
		layers:    append([]Layer(nil), opts.Layers...),
		subs:      make(map[int]chan Response),
	}
}

// SetLayers replaces the enabled layers. Requests in flight keep the set
// they started with.
func (g *Gateway) SetLayers(layers ...Layer) {
	g.mu.Lock()
	g.layers = append([]Layer(nil), layers...)
	g.mu.Unlock()
	g.logger.Info("layers updated", "layers", layerNames(layers))
}

// SetLayerTimeout changes the per-layer timeout.
func (g *Gateway) SetLayerTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultLayerTimeout
	}
	g.mu.Lock()
	g.timeout = d
	g.mu.Unlock()
}

// Layers returns the names of the enabled layers.
func (g *Gateway) Layers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return layerNames(g.layers)
}

// Authorize decides req. It never fails: input errors, layer timeouts and
// layer panics all become "ask" with a reason.
func (g *Gateway) Authorize(ctx context.Context, req request.ToolRequest) Response {
	start := time.Now()
	resp := Response{RequestID: uuid.New().String(), Timestamp: start.UTC()}
	if g.snapshots != nil {
		if snap := g.snapshots.Active(); snap != nil {
			resp.ProfileContext = snap.Context
			resp.ProfileFallback = snap.Fallback
		}
	}

	n, err := request.Normalize(req)
	if err != nil {
		resp.Decision = decision.Askf("invalid request: %v", err)
		g.finish(ctx, req, nil, &resp, start)
		return resp
	}

	g.mu.RLock()
	layers := append([]Layer(nil), g.layers...)
	timeout := g.timeout
	g.mu.RUnlock()

	results := make([]LayerResult, len(layers))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, l := range layers {
		i, l := i, l
		eg.Go(func() error {
			t0 := time.Now()
			d := g.runLayer(egCtx, l, n, timeout)
			results[i] = LayerResult{Layer: l.Name(), Decision: d, Elapsed: time.Since(t0)}
			return nil
		})
	}
	_ = eg.Wait()

	ds := make([]decision.Decision, len(results))
	for i, r := range results {
		ds[i] = r.Decision.WithLayer(r.Layer)
	}
	resp.Layers = results
	resp.Decision = decision.Combine(ds...)

	g.finish(ctx, req, n, &resp, start)
	return resp
}

func (g *Gateway) runLayer(ctx context.Context, l Layer, n *request.Normalized, timeout time.Duration) decision.Decision {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan decision.Decision, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("layer panicked", "layer", l.Name(), "panic", r)
				ch <- decision.Askf("layer failed: %v", r)
			}
		}()
		ch <- l.Evaluate(lctx, n)
	}()

	select {
	case d := <-ch:
		return d
	case <-lctx.Done():
		g.logger.Warn("layer timed out", "layer", l.Name(), "timeout", timeout)
		return decision.Askf("evaluation timed out after %s", timeout)
	}
}

func (g *Gateway) finish(ctx context.Context, req request.ToolRequest, n *request.Normalized, resp *Response, start time.Time) {
	elapsed := time.Since(start)
	fields := map[string]any{
		"request_id": resp.RequestID,
		"tool":       req.Tool,
		"caller":     req.Caller,
		"decision":   resp.Decision.Result.String(),
		"reason":     resp.Decision.Reason(),
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if len(req.Parameters) > 0 {
		fields["parameters"] = req.Parameters
	}
	if n != nil {
		fields["category"] = string(n.Access.Category)
		fields["operation"] = string(n.Access.Operation)
		fields["argument"] = n.Access.Argument
	}
	if len(resp.Layers) > 0 {
		layers := make(map[string]any, len(resp.Layers))
		for _, r := range resp.Layers {
			layers[r.Layer] = r.Decision.Result.String()
		}
		fields["layers"] = layers
	}
	if resp.ProfileContext != "" {
		fields["profile_context"] = resp.ProfileContext
		fields["profile_fallback"] = resp.ProfileFallback
	}

	g.audit.Record(ctx, audit.Entry{
		ID:        resp.RequestID,
		EventType: audit.EventAuthorization,
		Status:    resp.Decision.Result.Status(),
		Context:   fields,
	})
	g.logger.Debug("authorized",
		"request_id", resp.RequestID,
		"tool", req.Tool,
		"decision", resp.Decision.Result.String(),
		"elapsed", elapsed)
	g.publish(*resp)
}

// Subscribe streams every response to the returned channel until cancel is
// called. Slow subscribers miss responses rather than block authorization.
func (g *Gateway) Subscribe(buffer int) (<-chan Response, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Response, buffer)
	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch
	g.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.subMu.Lock()
			delete(g.subs, id)
			g.subMu.Unlock()
			close(ch)
		})
	}
}

func (g *Gateway) publish(resp Response) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	for id, ch := range g.subs {
		select {
		case ch <- resp:
		default:
			g.logger.Debug("subscriber lagging, dropped response", "subscriber", id)
		}
	}
}

func layerNames(layers []Layer) []string {
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name()
	}
	return names
}

// String renders the response for logs.
func (r Response) String() string {
	return fmt.Sprintf("%s %s", r.RequestID, r.Decision)
}
