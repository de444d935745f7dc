// ABOUTME: Qdrant REST client with embed, search, dedup upsert, scroll and delete.
// ABOUTME: 404 on a missing collection reads as empty; other non-2xx are UpstreamErrors.

package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/micktaiwan/eko/internal/metrics"
)

// DefaultDedupThreshold is the cosine score at which a new point replaces
// the closest existing one.
const DefaultDedupThreshold = 0.85

const scrollPageSize = 256

// errNotFound marks a 404 from the store internally.
var errNotFound = errors.New("not found")

// Options configures a Client.
type Options struct {
	URL            string
	APIKey         string
	DedupThreshold float64
	HTTPClient     *http.Client
	Locker         Locker
	Logger         *slog.Logger
	Now            func() time.Time
}

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	threshold float64
	http      *http.Client
	embedder  Embedder
	locker    Locker
	logger    *slog.Logger
	now       func() time.Time
}

// NewClient creates a vector store client.
func NewClient(embedder Embedder, opts Options) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(opts.URL, "/"),
		apiKey:    opts.APIKey,
		threshold: opts.DedupThreshold,
		http:      opts.HTTPClient,
		embedder:  embedder,
		locker:    opts.Locker,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if c.threshold <= 0 {
		c.threshold = DefaultDedupThreshold
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.locker == nil {
		c.locker = NewLocalLocker()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.logger = c.logger.With("component", "vector")
	return c
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embedder.Embed(ctx, text)
}

// Search returns points ordered by descending similarity.
func (c *Client) Search(ctx context.Context, collection string, q Query) ([]Point, error) {
	vec := q.Vector
	if vec == nil {
		var err error
		vec, err = c.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, err
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	body := map[string]any{
		"vector":       vec,
		"limit":        limit,
		"with_payload": true,
	}
	if f := q.Filter.wire(); f != nil {
		body["filter"] = f
	}

	var resp struct {
		Result []wirePoint `json:"result"`
	}
	err := c.do(ctx, "search", http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/search", body, &resp)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	points := make([]Point, 0, len(resp.Result))
	for _, wp := range resp.Result {
		p, err := wp.point()
		if err != nil {
			return nil, &UpstreamError{Service: ServiceVector, Op: "search", Err: err}
		}
		points = append(points, p)
	}
	return points, nil
}

// Upsert stores payload in collection, replacing the closest existing point
// when its score reaches the dedup threshold. The content is embedded once.
func (c *Client) Upsert(ctx context.Context, collection string, payload Payload) (UpsertResult, error) {
	if strings.TrimSpace(payload.Content) == "" {
		return UpsertResult{}, ErrEmptyContent
	}
	vec, err := c.embedder.Embed(ctx, payload.Content)
	if err != nil {
		return UpsertResult{}, err
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = c.now().UTC()
	}

	unlock, err := c.locker.Lock(ctx, collection)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("locking %s: %w", collection, err)
	}
	defer unlock()

	var result UpsertResult
	matches, err := c.Search(ctx, collection, Query{Vector: vec, Limit: 1})
	if err != nil {
		return UpsertResult{}, err
	}
	if len(matches) > 0 && matches[0].Score >= c.threshold {
		if err := c.Delete(ctx, collection, matches[0].ID); err != nil {
			return UpsertResult{}, err
		}
		result.ReplacedID = matches[0].ID
		result.Score = matches[0].Score
		c.logger.Debug("replacing near-duplicate point",
			"collection", collection,
			"replaced", matches[0].ID,
			"score", matches[0].Score,
		)
	}

	result.ID = uuid.NewString()
	if err := c.write(ctx, collection, result.ID, vec, payload); err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

// Insert stores payload without deduplication.
func (c *Client) Insert(ctx context.Context, collection string, payload Payload) (string, error) {
	if strings.TrimSpace(payload.Content) == "" {
		return "", ErrEmptyContent
	}
	vec, err := c.embedder.Embed(ctx, payload.Content)
	if err != nil {
		return "", err
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = c.now().UTC()
	}
	id := uuid.NewString()
	if err := c.write(ctx, collection, id, vec, payload); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) write(ctx context.Context, collection, id string, vec []float32, payload Payload) error {
	body := map[string]any{
		"points": []map[string]any{{
			"id":      id,
			"vector":  vec,
			"payload": payload,
		}},
	}
	return c.do(ctx, "upsert", http.MethodPut, "/collections/"+url.PathEscape(collection)+"/points?wait=true", body, nil)
}

// Delete removes a point. Deleting a point or collection that does not exist
// succeeds.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	var pointID any = id
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		pointID = n
	}
	body := map[string]any{"points": []any{pointID}}
	err := c.do(ctx, "delete", http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/delete?wait=true", body, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

// Scroll lists up to limit points in storage order. limit <= 0 pages through
// the whole collection.
func (c *Client) Scroll(ctx context.Context, collection string, limit int) ([]Point, error) {
	var (
		points []Point
		offset json.RawMessage
	)
	for {
		page := scrollPageSize
		if limit > 0 && limit-len(points) < page {
			page = limit - len(points)
		}
		body := map[string]any{"limit": page, "with_payload": true, "with_vector": false}
		if offset != nil {
			body["offset"] = offset
		}

		var resp struct {
			Result struct {
				Points []wirePoint      `json:"points"`
				Next   *json.RawMessage `json:"next_page_offset"`
			} `json:"result"`
		}
		err := c.do(ctx, "scroll", http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/scroll", body, &resp)
		if errors.Is(err, errNotFound) {
			return points, nil
		}
		if err != nil {
			return nil, err
		}
		for _, wp := range resp.Result.Points {
			p, err := wp.point()
			if err != nil {
				return nil, &UpstreamError{Service: ServiceVector, Op: "scroll", Err: err}
			}
			points = append(points, p)
		}

		if resp.Result.Next == nil || string(*resp.Result.Next) == "null" || len(resp.Result.Points) == 0 {
			return points, nil
		}
		if limit > 0 && len(points) >= limit {
			return points, nil
		}
		offset = *resp.Result.Next
	}
}

// EnsureCollection creates a cosine collection of the given dimension when
// it does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dim int) error {
	path := "/collections/" + url.PathEscape(collection)
	err := c.do(ctx, "get_collection", http.MethodGet, path, nil, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNotFound) {
		return err
	}

	body := map[string]any{"vectors": map[string]any{"size": dim, "distance": "Cosine"}}
	err = c.do(ctx, "create_collection", http.MethodPut, path, body, nil)
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.StatusCode == http.StatusConflict {
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info("created collection", "collection", collection, "dim", dim)
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	defer func() {
		status := metrics.Status(err)
		if errors.Is(err, errNotFound) {
			status = metrics.StatusOK
		}
		metrics.VectorOperationsTotal.WithLabelValues(op, status).Inc()
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Service: ServiceVector, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Service: ServiceVector, Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Service: ServiceVector, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
