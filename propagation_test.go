package causez

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInjectExtract(t *testing.T) {
	src := NewCell("src")
	src.Set(NewBuilder().TaskID(3).AddParent(9).Build())

	h := http.Header{}
	Inject(h, src)
	if h.Get(MetadataHeader) == "" {
		t.Fatal("Expected header set")
	}

	dst := NewCell("dst")
	if !Extract(h, dst) {
		t.Fatal("Expected extract to succeed")
	}
	got, _ := dst.Get()
	want, _ := src.Get()
	if !got.Equal(want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestInjectEmptyCell(t *testing.T) {
	h := http.Header{}
	Inject(h, NewCell("empty"))
	Inject(h, nil)
	if len(h) != 0 {
		t.Errorf("Expected no header for empty cell, got %v", h)
	}
}

func TestExtractMalformed(t *testing.T) {
	cases := map[string]string{
		"not base64":   "%%%",
		"bad metadata": base64.StdEncoding.EncodeToString([]byte{0xff}),
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			h := http.Header{}
			h.Set(MetadataHeader, v)
			cell := NewCell("c")
			if Extract(h, cell) {
				t.Error("Expected extract to fail")
			}
			if cell.Exists() {
				t.Error("Expected cell untouched")
			}
		})
	}
}

func TestMiddlewareAndRoundTripper(t *testing.T) {
	tracer, collector := newTestTracer(t)

	serverTask := make(chan int64, 1)
	server := httptest.NewServer(Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cell := CellFrom(r.Context())
		id, _ := cell.TaskID()
		serverTask <- id
		tracer.Logger("server").Log(r.Context(), "handled")
		w.WriteHeader(http.StatusNoContent)
	})))
	defer server.Close()

	ctx, cell := NewContext(context.Background(), "client")
	cell.Set(tracer.NewTask())
	tracer.Logger("client").Log(ctx, "calling")

	client := &http.Client{Transport: &RoundTripper{}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/work", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if req.Header.Get(MetadataHeader) != "" {
		t.Error("Expected original request headers untouched")
	}

	events := flush(t, tracer, collector)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	clientTask, _ := cell.TaskID()
	if got := <-serverTask; got != clientTask {
		t.Errorf("Expected server task %d, got %d", clientTask, got)
	}
	if !equalIDs(events[1].ParentEventIDs, []int64{events[0].EventID}) {
		t.Errorf("Expected server event to descend from client event, got %v", events[1].ParentEventIDs)
	}
	if events[1].ThreadName != "GET /work" {
		t.Errorf("Expected request cell name, got %s", events[1].ThreadName)
	}
}
