// Package rest implements the remote backend over a PostgREST-style HTTP
// API: rows are posted to /rest/v1/{table}, filters use id=eq.{id} query
// parameters, and Prefer headers select representation and upsert
// resolution. Offline inserts are replay-safe because every row carries a
// client_key column with a unique constraint server-side.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/hermonbest/my-money-sub001/internal/remote"
)

func init() {
	remote.Register("rest", func(cfg remote.Config) (remote.Backend, error) {
		return New(cfg)
	})
}

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 4 << 20
)

// Backend talks to the hosted API.
type Backend struct {
	base   string
	token  string
	minVer string
	client *http.Client
}

var _ remote.Backend = (*Backend)(nil)

// New builds a backend from config. BaseURL is required.
func New(cfg remote.Config) (*Backend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Backend{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		token:  cfg.Token,
		minVer: cfg.MinServerVersion,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Name identifies the driver.
func (b *Backend) Name() string { return "rest" }

// Close releases idle connections.
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Ping checks reachability and, when MinServerVersion is set, that the
// server is new enough to understand our payloads.
func (b *Backend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.base+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	b.setHeaders(req, false, "")

	resp, err := b.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading health response: %v", remote.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, serverMessage(data))
	}

	var health healthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		return fmt.Errorf("%w: decoding health response: %v", remote.ErrUnavailable, err)
	}
	if b.minVer != "" && health.Version != "" {
		if semver.Compare(canonical(health.Version), canonical(b.minVer)) < 0 {
			return fmt.Errorf("%w: server %s, need at least %s", remote.ErrIncompatible, health.Version, b.minVer)
		}
	}
	return nil
}

// canonical gives semver.Compare the "v" prefix it insists on.
func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

// Insert creates one row and returns the server representation.
func (b *Backend) Insert(ctx context.Context, table string, row remote.Row) (remote.Row, error) {
	rows, err := b.InsertMany(ctx, table, []remote.Row{row})
	if err != nil {
		return nil, err
	}
	return first(rows, table)
}

// InsertMany creates rows in one request.
func (b *Backend) InsertMany(ctx context.Context, table string, rows []remote.Row) ([]remote.Row, error) {
	return b.do(ctx, http.MethodPost, table, nil, rows, "return=representation")
}

// Update merges columns into the row with the given id.
func (b *Backend) Update(ctx context.Context, table, id string, row remote.Row) (remote.Row, error) {
	query := url.Values{}
	query.Set("id", "eq."+id)

	body := row.Clone()
	delete(body, "id")

	rows, err := b.do(ctx, http.MethodPatch, table, query, body, "return=representation")
	if err != nil {
		return nil, err
	}
	// A PATCH matching no rows succeeds with an empty representation.
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s id %s", remote.ErrNotFound, table, id)
	}
	return rows[0], nil
}

// Upsert inserts or merges. Rows without a server id resolve duplicates on
// the client_key column instead of the primary key.
func (b *Backend) Upsert(ctx context.Context, table string, row remote.Row) (remote.Row, error) {
	rows, err := b.UpsertMany(ctx, table, []remote.Row{row})
	if err != nil {
		return nil, err
	}
	return first(rows, table)
}

// UpsertMany upserts rows in one request.
func (b *Backend) UpsertMany(ctx context.Context, table string, rows []remote.Row) ([]remote.Row, error) {
	query := url.Values{}
	if len(rows) > 0 && rows[0].ID() == "" {
		if key, ok := rows[0].String("client_key"); ok && key != "" {
			query.Set("on_conflict", "client_key")
		}
	}
	return b.do(ctx, http.MethodPost, table, query, rows, "resolution=merge-duplicates,return=representation")
}

// Delete removes the row. The server treats a non-matching filter as a
// successful no-op, which is exactly what replaying a delete needs.
func (b *Backend) Delete(ctx context.Context, table, id string) error {
	query := url.Values{}
	query.Set("id", "eq."+id)
	_, err := b.do(ctx, http.MethodDelete, table, query, nil, "")
	return err
}

// Get fetches one row by id.
func (b *Backend) Get(ctx context.Context, table, id string) (remote.Row, error) {
	query := url.Values{}
	query.Set("id", "eq."+id)
	query.Set("limit", "1")

	rows, err := b.do(ctx, http.MethodGet, table, query, nil, "")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s id %s", remote.ErrNotFound, table, id)
	}
	return rows[0], nil
}

func first(rows []remote.Row, table string) (remote.Row, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty representation for %s", remote.ErrUnavailable, table)
	}
	return rows[0], nil
}

func (b *Backend) setHeaders(req *http.Request, hasBody bool, prefer string) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	if b.token != "" {
		req.Header.Set("apikey", b.token)
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
}

// do sends one request and decodes the row array the API returns.
func (b *Backend) do(ctx context.Context, method, table string, query url.Values, body any, prefer string) ([]remote.Row, error) {
	endpoint := b.base + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding request: %v", remote.ErrBadRequest, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	b.setHeaders(req, body != nil, prefer)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", remote.ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, serverMessage(data))
	}
	if resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil, nil
	}

	var rows []remote.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		var row remote.Row
		if err2 := json.Unmarshal(data, &row); err2 != nil {
			return nil, fmt.Errorf("%w: decoding response: %v", remote.ErrUnavailable, err)
		}
		rows = []remote.Row{row}
	}
	return rows, nil
}

// serverMessage extracts the error text PostgREST-style bodies carry.
func serverMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func classifyStatus(code int, msg string) error {
	var kind error
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		kind = remote.ErrBadRequest
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = remote.ErrUnauthorized
	case code == http.StatusNotFound:
		kind = remote.ErrNotFound
	case code == http.StatusConflict:
		kind = remote.ErrConflict
	case code == http.StatusRequestTimeout:
		kind = remote.ErrTimeout
	default:
		kind = remote.ErrUnavailable
	}
	if msg == "" {
		return fmt.Errorf("%w: status %d", kind, code)
	}
	return fmt.Errorf("%w: status %d: %s", kind, code, msg)
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", remote.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", remote.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
}
