// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/tidewater/services/relay/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newAskRouter wires the handler into a fresh engine the way routes does.
func newAskRouter(t *testing.T, upstreamURL string) *gin.Engine {
	t.Helper()
	router := gin.New()
	handler := NewAskStreamHandler(upstreamURL)
	router.POST("/v1/ask/stream", handler.HandleAskStream)
	return router
}

func validAskBody(t *testing.T) *bytes.Reader {
	t.Helper()
	payload, err := json.Marshal(datatypes.AskRequest{
		Query: "What is dark matter?",
		Mode:  "hybrid",
	})
	require.NoError(t, err)
	return bytes.NewReader(payload)
}

func TestHandleAskStream_MissingSessionHeader(t *testing.T) {
	router := newAskRouter(t, "http://127.0.0.1:1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", validAskBody(t))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var errResp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Contains(t, errResp.Error, datatypes.SessionIDHeader)
}

func TestHandleAskStream_InvalidBody(t *testing.T) {
	router := newAskRouter(t, "http://127.0.0.1:1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", bytes.NewReader([]byte("{not json")))
	req.Header.Set(datatypes.SessionIDHeader, "sess-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAskStream_ValidationFailure(t *testing.T) {
	payload, err := json.Marshal(datatypes.AskRequest{Mode: "hybrid"}) // no query
	require.NoError(t, err)

	router := newAskRouter(t, "http://127.0.0.1:1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", bytes.NewReader(payload))
	req.Header.Set(datatypes.SessionIDHeader, "sess-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAskStream_UpstreamUnreachable(t *testing.T) {
	// Port 1 is never listening; the dial fails before any stream bytes.
	router := newAskRouter(t, "http://127.0.0.1:1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", validAskBody(t))
	req.Header.Set(datatypes.SessionIDHeader, "sess-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	var errResp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.NotEmpty(t, errResp.Error)
}

func TestHandleAskStream_UpstreamErrorStatusPreserved(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	router := newAskRouter(t, upstream.URL)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", validAskBody(t))
	req.Header.Set(datatypes.SessionIDHeader, "sess-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var errResp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.NotEmpty(t, errResp.Error)
}

func TestHandleAskStream_RelaysChunksInOrder(t *testing.T) {
	chunks := []string{"Dark", " matter", " is a form of matter."}
	var gotSessionID, gotPath, gotAccept string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionID = r.Header.Get(datatypes.SessionIDHeader)
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")

		var req datatypes.AskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "What is dark matter?", req.Query)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			_, err := w.Write([]byte(chunk))
			require.NoError(t, err)
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	router := newAskRouter(t, upstream.URL)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", validAskBody(t))
	req.Header.Set(datatypes.SessionIDHeader, "sess-relay-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	// Byte-for-byte relay: concatenation matches, nothing reordered or added.
	assert.Equal(t, "Dark matter is a form of matter.", w.Body.String())
	assert.True(t, w.Flushed)

	assert.Equal(t, "sess-relay-1", gotSessionID)
	assert.Equal(t, upstreamAskPath, gotPath)
	assert.Equal(t, "text/event-stream", gotAccept)
}

func TestHandleAskStream_MidStreamFailureTruncates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("partial answer"))
		flusher.Flush()
		// Abort the connection mid-body. The relay sees a read error after
		// headers are committed and must truncate, not append an envelope.
		panic(http.ErrAbortHandler)
	}))
	defer upstream.Close()

	router := newAskRouter(t, upstream.URL)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask/stream", validAskBody(t))
	req.Header.Set(datatypes.SessionIDHeader, "sess-trunc-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "partial answer", w.Body.String())
	assert.NotContains(t, w.Body.String(), "error")
}

func TestHandleAskStream_ClientDisconnectReleasesUpstream(t *testing.T) {
	upstreamReleased := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("first"))
		flusher.Flush()

		// Keep producing until the relay drops the upstream connection.
		for {
			select {
			case <-r.Context().Done():
				close(upstreamReleased)
				return
			case <-time.After(10 * time.Millisecond):
				_, _ = w.Write([]byte(" more"))
				flusher.Flush()
			}
		}
	}))
	defer upstream.Close()

	// A live server, not a recorder: the disconnect has to travel through
	// a real connection to cancel the handler's request context.
	router := newAskRouter(t, upstream.URL)
	relay := httptest.NewServer(router)
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relay.URL+"/v1/ask/stream", validAskBody(t))
	require.NoError(t, err)
	req.Header.Set(datatypes.SessionIDHeader, "sess-disc-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Consume the first chunk, then walk away mid-stream.
	buf := make([]byte, 64)
	_, err = resp.Body.Read(buf)
	require.NoError(t, err)
	cancel()

	select {
	case <-upstreamReleased:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream connection not released after client disconnect")
	}
}

func TestNewAskStreamHandler_PanicsOnEmptyURL(t *testing.T) {
	assert.Panics(t, func() {
		NewAskStreamHandler("")
	})
}

func TestSetStreamHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetStreamHeaders(w)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}
