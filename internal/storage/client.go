package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mkadlec/tabsync/internal/inspect"
)

// ClientConfig configures the HTTP Gateway implementation.
type ClientConfig struct {
	// StackURL is the service endpoint, e.g. https://connection.example.com.
	StackURL string
	// Token is the storage API token.
	Token string
	// CompressionThreshold is the file size in bytes above which uploads
	// are gzip-compressed. Zero or negative disables compression.
	CompressionThreshold int64
	// RequestsPerSecond caps the request rate against the service. Zero
	// or negative means unlimited.
	RequestsPerSecond float64
	// Timeout bounds a single HTTP request. Defaults to five minutes,
	// generous enough for large table loads.
	Timeout time.Duration
}

// Client implements Gateway against the storage service's HTTP API.
type Client struct {
	cfg     ClientConfig
	httpc   *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// tokenHeader authenticates requests against the stack.
const tokenHeader = "X-StorageApi-Token"

// NewClient creates the HTTP Gateway implementation.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// VerifyToken checks the configured credentials against the service. Called
// once at startup so bad tokens fail fast instead of on the first sync.
func (c *Client) VerifyToken(ctx context.Context) error {
	resp, err := c.request(ctx, "verify token", http.MethodGet, "/v2/storage/tokens/verify", nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// BucketExists implements Gateway.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return c.exists(ctx, "check bucket", "/v2/storage/buckets/"+url.PathEscape(BucketID(bucket)))
}

// CreateBucket implements Gateway.
func (c *Client) CreateBucket(ctx context.Context, bucket string) error {
	form := url.Values{}
	form.Set("name", bucket)
	form.Set("stage", Stage)

	resp, err := c.request(ctx, "create bucket", http.MethodPost, "/v2/storage/buckets",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.logger.Info().Str("bucket", BucketID(bucket)).Msg("bucket created")
	return nil
}

// TableExists implements Gateway.
func (c *Client) TableExists(ctx context.Context, bucket, table string) (bool, error) {
	return c.exists(ctx, "check table", "/v2/storage/tables/"+url.PathEscape(TableID(bucket, table)))
}

// CreateTable implements Gateway.
func (c *Client) CreateTable(ctx context.Context, bucket, table string, header, primaryKey []string, filePath string, dialect inspect.Dialect) error {
	fields := map[string]string{
		"name":      table,
		"delimiter": string(dialect.Delimiter),
		"enclosure": string(dialect.Quote),
	}
	if len(primaryKey) > 0 {
		fields["primaryKey"] = strings.Join(primaryKey, ",")
	}

	path := fmt.Sprintf("/v2/storage/buckets/%s/tables", url.PathEscape(BucketID(bucket)))
	if err := c.uploadFile(ctx, "create table", path, fields, filePath); err != nil {
		return err
	}

	c.logger.Info().
		Str("table", TableID(bucket, table)).
		Strs("columns", header).
		Msg("table created")
	return nil
}

// ReplaceTableData implements Gateway.
func (c *Client) ReplaceTableData(ctx context.Context, bucket, table string, filePath string, dialect inspect.Dialect) error {
	fields := map[string]string{
		"incremental": "0",
		"delimiter":   string(dialect.Delimiter),
		"enclosure":   string(dialect.Quote),
	}

	path := fmt.Sprintf("/v2/storage/tables/%s/import", url.PathEscape(TableID(bucket, table)))
	if err := c.uploadFile(ctx, "replace table data", path, fields, filePath); err != nil {
		return err
	}

	c.logger.Info().Str("table", TableID(bucket, table)).Msg("table data replaced")
	return nil
}

// AppendRows implements Gateway. The rows (header first) are framed as an
// in-memory CSV and imported incrementally, upserting by primary key.
func (c *Client) AppendRows(ctx context.Context, bucket, table string, rows [][]string, primaryKey []string) error {
	var data bytes.Buffer
	w := csv.NewWriter(&data)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("append rows: encode CSV: %w", err)
	}

	fields := map[string]string{"incremental": "1"}
	if len(primaryKey) > 0 {
		fields["primaryKey"] = strings.Join(primaryKey, ",")
	}

	path := fmt.Sprintf("/v2/storage/tables/%s/import", url.PathEscape(TableID(bucket, table)))
	if err := c.uploadBuffer(ctx, "append rows", path, fields, "rows.csv", data.Bytes()); err != nil {
		return err
	}

	c.logger.Info().
		Str("table", TableID(bucket, table)).
		Int("rows", len(rows)-1).
		Msg("rows appended")
	return nil
}

// PostStreamEvents implements Gateway. The endpoint is an absolute URL
// outside the stack, so no token is attached.
func (c *Client) PostStreamEvents(ctx context.Context, endpoint string, batch []string) error {
	const op = "post stream events"

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	body := strings.NewReader(strings.Join(batch, "\n"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apiError(op, resp)
	}
	return nil
}

// exists translates 200/404 into a boolean, anything else into an error.
func (c *Client) exists(ctx context.Context, op, path string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.StackURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set(tokenHeader, c.cfg.Token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, apiError(op, resp)
	}
	return true, nil
}

// request performs a plain (non-multipart) API call. The caller must close
// the response body on success.
func (c *Client) request(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.StackURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set(tokenHeader, c.cfg.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, apiError(op, resp)
	}
	return resp, nil
}

// uploadFile streams the file at filePath as the "data" part of a multipart
// request. Files over the compression threshold are gzipped on the fly and
// flagged so the service decompresses them on import.
func (c *Client) uploadFile(ctx context.Context, op, path string, fields map[string]string, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	compress := c.cfg.CompressionThreshold > 0 && info.Size() > c.cfg.CompressionThreshold
	if compress {
		fields["isCompressed"] = "1"
		c.logger.Debug().
			Str("file", filePath).
			Int64("size", info.Size()).
			Msg("compressing upload")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		werr := writeMultipart(mw, fields, filePath, compress)
		if werr != nil {
			pw.CloseWithError(werr)
			return
		}
		pw.Close()
	}()

	resp, err := c.request(ctx, op, http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		// The request may fail before the body is ever read; release the
		// writer goroutine blocked on the pipe.
		pr.CloseWithError(err)
		return err
	}
	resp.Body.Close()
	return nil
}

// uploadBuffer sends an in-memory payload as the "data" part.
func (c *Client) uploadBuffer(ctx context.Context, op, path string, fields map[string]string, name string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	part, err := mw.CreateFormFile("data", name)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.request(ctx, op, http.MethodPost, path, &body, mw.FormDataContentType())
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func writeMultipart(mw *multipart.Writer, fields map[string]string, filePath string, compress bool) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(filePath)
	if compress {
		name += ".gz"
	}
	part, err := mw.CreateFormFile("data", name)
	if err != nil {
		return err
	}

	if compress {
		gz := gzip.NewWriter(part)
		if _, err := io.Copy(gz, f); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return err
		}
	} else if _, err := io.Copy(part, f); err != nil {
		return err
	}

	return mw.Close()
}

// apiError builds an APIError from a non-2xx response, keeping a bounded
// body snippet for the log.
func apiError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
}
