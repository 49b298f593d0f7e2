package ariel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Console: srv.URL,
		Token:   "secret-token",
		Version: "19.0",
		Timeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestCreateSearch(t *testing.T) {
	var gotReq *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"cursor_id":"abc-123","status":"WAIT","completed":false,"progress":0,"record_count":0,"error_messages":[]}`)
	})

	s, err := c.CreateSearch(context.Background(), "SELECT * FROM events START '2024-03-01 00:00:00'")
	require.NoError(t, err)

	assert.Equal(t, "abc-123", s.CursorID)
	assert.False(t, s.IsCompleted())
	assert.Equal(t, http.MethodPost, gotReq.Method)
	assert.Equal(t, "/api/ariel/searches", gotReq.URL.Path)
	assert.Equal(t, "SELECT * FROM events START '2024-03-01 00:00:00'", gotReq.URL.Query().Get("query_expression"))
	assert.Equal(t, "secret-token", gotReq.Header.Get("SEC"))
	assert.Equal(t, "19.0", gotReq.Header.Get("Version"))
	assert.Equal(t, "application/json", gotReq.Header.Get("Accept"))
	assert.Equal(t, "application/json", gotReq.Header.Get("Content-Type"))
}

func TestCreateSearchWithoutCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"WAIT"}`)
	})

	_, err := c.CreateSearch(context.Background(), "x")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestGetSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/ariel/searches/abc-123", r.URL.Path)
		_, _ = io.WriteString(w, `{"cursor_id":"abc-123","status":"COMPLETED","completed":true,"progress":100,"record_count":1500,
			"error_messages":[{"code":"1","message":"partial"}]}`)
	})

	s, err := c.GetSearch(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.True(t, s.IsCompleted())
	assert.Equal(t, 1500, s.RecordCount)
	assert.Equal(t, 100, s.Progress)
	require.Len(t, s.ErrorMessages, 1)
	assert.Equal(t, "partial", s.ErrorMessages[0].Message)
}

func TestGetSearchMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>gateway</html>`},
		{"missing completed", `{"cursor_id":"abc","status":"EXECUTE"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.GetSearch(context.Background(), "abc")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   int
		wantMsg    string
		wantServer bool
		wantClient bool
	}{
		{
			name:       "qradar error body",
			status:     http.StatusUnprocessableEntity,
			body:       `{"http_response":{"code":422,"message":"Unprocessable"},"code":2000,"message":"Query expression invalid","description":""}`,
			wantCode:   2000,
			wantMsg:    "Query expression invalid",
			wantClient: true,
		},
		{
			name:       "falls back to http_response message",
			status:     http.StatusNotFound,
			body:       `{"http_response":{"code":404,"message":"Search not found"}}`,
			wantMsg:    "Search not found",
			wantClient: true,
		},
		{
			name:       "server error with html",
			status:     http.StatusServiceUnavailable,
			body:       `<html>down</html>`,
			wantServer: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.GetSearch(context.Background(), "abc")
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.body, apiErr.Body)
			assert.Equal(t, tt.wantServer, apiErr.IsServerError())
			assert.Equal(t, tt.wantClient, apiErr.IsClientError())
		})
	}
}

func TestStreamResults(t *testing.T) {
	const payload = "{\"events\":[{\"a\":1},\n{\"a\":2}]}"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ariel/searches/abc/results", r.URL.Path)
		_, _ = io.WriteString(w, payload)
	})

	rc, err := c.StreamResults(context.Background(), "abc")
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

func TestStreamResultsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.StreamResults(context.Background(), "gone")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsClientError())
}

func TestNewClientConsoleURL(t *testing.T) {
	c, err := NewClient(Config{Console: "qradar.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://qradar.example.com/api/ariel/searches/x%2Fy", c.endpoint("x/y"))

	_, err = NewClient(Config{}, nil)
	assert.Error(t, err)
}
