package storage

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkadlec/tabsync/internal/inspect"
	"github.com/mkadlec/tabsync/internal/retry"
)

func testClient(t *testing.T, handler http.Handler, threshold int64) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		StackURL:             srv.URL,
		Token:                "test-token",
		CompressionThreshold: threshold,
	}, zerolog.Nop())
	return client, srv
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// TestClient_TokenHeader verifies every stack request carries the token.
func TestClient_TokenHeader(t *testing.T) {
	var gotToken string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-StorageApi-Token")
	}), 0)

	if _, err := client.BucketExists(context.Background(), "sales"); err != nil {
		t.Fatalf("BucketExists() failed: %v", err)
	}
	if gotToken != "test-token" {
		t.Errorf("token header = %q, want test-token", gotToken)
	}
}

// TestClient_BucketExists covers the 200/404 translation.
func TestClient_BucketExists(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "in.c-sales") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}), 0)

	exists, err := client.BucketExists(context.Background(), "sales")
	if err != nil {
		t.Fatalf("BucketExists() failed: %v", err)
	}
	if !exists {
		t.Error("bucket in.c-sales should exist")
	}

	exists, err = client.BucketExists(context.Background(), "missing")
	if err != nil {
		t.Fatalf("BucketExists() failed: %v", err)
	}
	if exists {
		t.Error("bucket in.c-missing should not exist")
	}
}

// TestClient_CreateTable verifies the multipart form and the uncompressed
// small-file path.
func TestClient_CreateTable(t *testing.T) {
	var form struct {
		name, primaryKey, data string
		compressed             bool
	}
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			return
		}
		form.name = r.FormValue("name")
		form.primaryKey = r.FormValue("primaryKey")
		form.compressed = r.FormValue("isCompressed") == "1"

		f, _, err := r.FormFile("data")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		form.data = string(data)
	}), 1<<20)

	path := writeFile(t, "daily.csv", "id,amount\n1,100\n")
	err := client.CreateTable(context.Background(), "sales", "daily",
		[]string{"id", "amount"}, []string{"id"}, path, inspect.DefaultDialect())
	if err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}

	if form.name != "daily" {
		t.Errorf("name = %q, want daily", form.name)
	}
	if form.primaryKey != "id" {
		t.Errorf("primaryKey = %q, want id", form.primaryKey)
	}
	if form.compressed {
		t.Error("small file should not be compressed")
	}
	if form.data != "id,amount\n1,100\n" {
		t.Errorf("uploaded data = %q", form.data)
	}
}

// TestClient_CompressionThreshold verifies files over the threshold are
// gzipped and flagged, files under it are not.
func TestClient_CompressionThreshold(t *testing.T) {
	var compressed bool
	var payload []byte
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			return
		}
		compressed = r.FormValue("isCompressed") == "1"
		f, _, err := r.FormFile("data")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			return
		}
		defer f.Close()
		payload, _ = io.ReadAll(f)
	}), 100)

	big := writeFile(t, "big.csv", "id,amount\n"+strings.Repeat("1,100\n", 50))
	err := client.ReplaceTableData(context.Background(), "sales", "daily", big, inspect.DefaultDialect())
	if err != nil {
		t.Fatalf("ReplaceTableData() failed: %v", err)
	}
	if !compressed {
		t.Fatal("file over threshold should be compressed")
	}

	gz, err := gzip.NewReader(strings.NewReader(string(payload)))
	if err != nil {
		t.Fatalf("payload is not gzip: %v", err)
	}
	plain, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if !strings.HasPrefix(string(plain), "id,amount\n") {
		t.Errorf("decompressed payload = %q...", string(plain)[:20])
	}

	small := writeFile(t, "small.csv", "id,amount\n1,100\n")
	err = client.ReplaceTableData(context.Background(), "sales", "daily", small, inspect.DefaultDialect())
	if err != nil {
		t.Fatalf("ReplaceTableData() failed: %v", err)
	}
	if compressed {
		t.Error("file under threshold should not be compressed")
	}
}

// TestClient_AppendRows verifies the incremental import form.
func TestClient_AppendRows(t *testing.T) {
	var incremental, primaryKey, data string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			return
		}
		incremental = r.FormValue("incremental")
		primaryKey = r.FormValue("primaryKey")
		f, _, err := r.FormFile("data")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		data = string(b)
	}), 0)

	rows := [][]string{{"id", "amount"}, {"3", "300"}, {"4", "400"}}
	err := client.AppendRows(context.Background(), "sales", "daily", rows, []string{"id"})
	if err != nil {
		t.Fatalf("AppendRows() failed: %v", err)
	}

	if incremental != "1" {
		t.Errorf("incremental = %q, want 1", incremental)
	}
	if primaryKey != "id" {
		t.Errorf("primaryKey = %q, want id", primaryKey)
	}
	if data != "id,amount\n3,300\n4,400\n" {
		t.Errorf("data = %q", data)
	}
}

// TestClient_PostStreamEvents verifies batch framing.
func TestClient_PostStreamEvents(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{StackURL: "http://unused", Token: "t"}, zerolog.Nop())
	err := client.PostStreamEvents(context.Background(), srv.URL, []string{"ev1", "ev2", "ev3"})
	if err != nil {
		t.Fatalf("PostStreamEvents() failed: %v", err)
	}
	if body != "ev1\nev2\nev3" {
		t.Errorf("body = %q", body)
	}
}

// TestClient_ErrorClassification verifies the retryable/fatal split.
func TestClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
		auth      bool
	}{
		{http.StatusInternalServerError, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadRequest, false, false},
		{http.StatusUnauthorized, false, true},
		{http.StatusForbidden, false, true},
	}

	for _, tc := range cases {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}), 0)

		err := client.CreateBucket(context.Background(), "sales")
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}

		var ae *APIError
		if !errors.As(err, &ae) {
			t.Fatalf("status %d: error %T, want APIError", tc.status, err)
		}
		if got := retry.IsRetryable(err); got != tc.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", tc.status, got, tc.retryable)
		}
		if got := IsAuthError(err); got != tc.auth {
			t.Errorf("status %d: IsAuthError = %v, want %v", tc.status, got, tc.auth)
		}
	}
}

// TestClient_TransportErrorRetryable verifies network failures classify as
// retryable.
func TestClient_TransportErrorRetryable(t *testing.T) {
	client := NewClient(ClientConfig{
		StackURL: "http://127.0.0.1:1", // nothing listens here
		Token:    "t",
	}, zerolog.Nop())

	err := client.CreateBucket(context.Background(), "sales")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !retry.IsRetryable(err) {
		t.Errorf("transport error should be retryable, got %v", err)
	}
}

// TestClient_UploadAbortReleasesPipeWriter verifies a request that fails
// before its body is read does not strand the multipart writer goroutine.
func TestClient_UploadAbortReleasesPipeWriter(t *testing.T) {
	path := writeFile(t, "daily.csv", "id,amount\n1,100\n")
	client := NewClient(ClientConfig{
		StackURL: "http://127.0.0.1:1", // nothing listens here
		Token:    "t",
	}, zerolog.Nop())

	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.ReplaceTableData(ctx, "sales", "daily", path, inspect.DefaultDialect()); err == nil {
		t.Fatal("expected error from canceled context")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > before {
		t.Fatalf("goroutines = %d after abort, want at most %d", n, before)
	}
}

// TestSanitizeBucketName covers directory-to-bucket name conversion.
func TestSanitizeBucketName(t *testing.T) {
	cases := map[string]string{
		"Sales":          "sales",
		"my data!":       "my_data",
		"a--b__c":        "a_b_c",
		"2024 Q1 (new)":  "2024_q1_new",
		"already_fine":   "already_fine",
		"__edge__cases_": "edge_cases",
	}
	for in, want := range cases {
		if got := SanitizeBucketName(in); got != want {
			t.Errorf("SanitizeBucketName(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestIDs covers the id scheme helpers.
func TestIDs(t *testing.T) {
	if got := BucketID("sales"); got != "in.c-sales" {
		t.Errorf("BucketID = %q", got)
	}
	if got := TableID("sales", "daily"); got != "in.c-sales.daily" {
		t.Errorf("TableID = %q", got)
	}
}
