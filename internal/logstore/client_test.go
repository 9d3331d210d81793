package logstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPushSendsLabeledLines(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	err := c.Push(context.Background(), map[string]string{"app": "orion-sentinel"}, [][]byte{[]byte(`{"a":1}`)})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	streams, ok := gotBody["streams"].([]interface{})
	if !ok || len(streams) != 1 {
		t.Fatalf("unexpected push body: %+v", gotBody)
	}
}

func TestPushRejectedIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	err := c.Push(context.Background(), map[string]string{"app": "orion-sentinel"}, [][]byte{[]byte(`{}`)})
	if err == nil {
		t.Fatal("expected rejected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt for a rejected (4xx) push, got %d", calls)
	}
}

func TestQueryParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"timestamp_nanos": time.Now().UnixNano(), "labels": map[string]string{"event_type": "intel_match"}, "line": `{"x":1}`},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	records, err := c.Query(context.Background(), `{event_type="intel_match"}`, time.Now().Add(-time.Hour), time.Now(), 100)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestBatchSplittingPreservesOrder(t *testing.T) {
	lines := [][]byte{[]byte("aaaaaaaaaa"), []byte("bbbbbbbbbb"), []byte("cccccccccc")}
	batches := splitBatches(lines, 15)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d: %v", len(batches), batches)
	}
	if string(batches[0][0]) != "aaaaaaaaaa" || string(batches[2][len(batches[2])-1]) != "cccccccccc" {
		t.Fatalf("order not preserved: %v", batches)
	}
}
