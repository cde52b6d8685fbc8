package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/repack/extract"
	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/testutil"
	"github.com/meigma/repack/pack"
	"github.com/meigma/repack/runner"
	"github.com/meigma/repack/staging"
)

func newServer(t *testing.T, cfg Config, opts ...runner.Option) (*httptest.Server, *runner.Pool) {
	t.Helper()
	opts = append([]runner.Option{runner.WithStagingOptions(staging.WithPreferMemory(true))}, opts...)
	pool, err := runner.NewPool(1, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	ts := httptest.NewServer(New(cfg, pool, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, pool
}

func post(t *testing.T, url string, body []byte, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.Bytes()
}

func filenameOf(h http.Header) string {
	_, params, err := mime.ParseMediaType(h.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// stallingEngine blocks extraction until release is closed.
type stallingEngine struct {
	started chan<- struct{}
	release <-chan struct{}
}

func (e stallingEngine) Name() string { return "stalling" }

func (e stallingEngine) Extract(ctx context.Context, _ extract.Source, dst extract.Sink, _ extract.ReportFunc) error {
	select {
	case e.started <- struct{}{}:
	default:
	}
	select {
	case <-e.release:
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	_, err := dst.WriteFile(ctx, "f.txt", strings.NewReader("data"), 0o644, nil)
	return err
}

func stallingFactory(started chan<- struct{}, release <-chan struct{}) runner.EngineFactory {
	return func() (*runner.Engines, error) {
		return &runner.Engines{
			Extractor: extract.New(extract.WithEngines(stallingEngine{started: started, release: release}, nil)),
			Packing:   pack.New(),
		}, nil
	}
}

func TestConvertEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, Config{})
	entries := testutil.Example()
	resp := post(t, ts.URL+"/v1/convert?to=tar.gz&name=docs.zip", testutil.Zip(t, entries), nil)
	body := readBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "application/gzip", resp.Header.Get("Content-Type"))
	assert.Equal(t, "docs.tar.gz", filenameOf(resp.Header))
	assert.Equal(t, digest.FromBytes(body).String(), resp.Header.Get(HeaderDigest))
	assert.Equal(t, jobtype.StateDone.String(), resp.Header.Get(HeaderState))
	assert.Equal(t, testutil.Expect(entries, true), testutil.ListTar(t, body, format.FilterGzip))
}

func TestConvertEndpointErrors(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, Config{MaxBodyBytes: 4 << 10})
	tests := []struct {
		name   string
		query  string
		body   []byte
		status int
	}{
		{"unknown target", "?to=arj", testutil.Zip(t, testutil.Example()), http.StatusUnsupportedMediaType},
		{"rar output", "?to=rar", testutil.Zip(t, testutil.Example()), http.StatusUnsupportedMediaType},
		{"rar5 input", "?to=zip", []byte("Rar!\x1a\x07\x01\x00\x00\x00"), http.StatusUnsupportedMediaType},
		{"empty archive", "?to=zip", testutil.Zip(t, nil), http.StatusUnprocessableEntity},
		{"garbage", "?to=zip", []byte("definitely not an archive"), http.StatusUnprocessableEntity},
		{"too large", "?to=zip", make([]byte, 8<<10), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/v1/convert"+tt.query, tt.body, nil)
			body := readBody(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode, string(body))

			var e errorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestConvertEndpointBusy(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	ts, _ := newServer(t, Config{}, runner.WithEngineFactory(stallingFactory(started, release)))

	input := testutil.Zip(t, testutil.Example())
	done := make(chan int, 1)
	go func() {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.URL+"/v1/convert?to=zip", bytes.NewReader(input))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- 0
			return
		}
		_ = resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-started

	resp := post(t, ts.URL+"/v1/convert?to=zip", input, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts, _ := newServer(t, Config{})
	resp, err := http.Get(ts.URL + "/healthz") //nolint:noctx // test
	require.NoError(t, err)
	defer resp.Body.Close()

	var h healthzResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Runners)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{jobtype.ErrBusy, http.StatusTooManyRequests},
		{fmt.Errorf("x: %w", jobtype.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{jobtype.ErrEmptyArchive, http.StatusUnprocessableEntity},
		{jobtype.ErrPasswordRequired, http.StatusUnprocessableEntity},
		{jobtype.ErrTimeout, http.StatusGatewayTimeout},
		{jobtype.ErrOutputTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: %w", jobtype.ErrPackingFailed, jobtype.ErrEngineUnavailable), http.StatusNotImplemented},
		{jobtype.ErrRunnerClosed, http.StatusServiceUnavailable},
		{runner.ErrUnknownCommand, http.StatusBadRequest},
		{jobtype.ErrPackingFailed, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), fmt.Sprint(tt.err))
	}
}
