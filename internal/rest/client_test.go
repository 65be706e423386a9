package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMessageHistorySendsBearerAndPaging(t *testing.T) {
	var gotAuth, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		if r.URL.Path != "/api/rooms/r1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[{"id":"m1","room":"r1","sender_id":"u2","body":"hi","created_at":1700000000}],"page":2,"has_more":true}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/api", "tok", nil)
	msgs, err := c.MessageHistory(context.Background(), "r1", 2, 30)
	if err != nil {
		t.Fatalf("MessageHistory: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotQuery != "limit=30&page=2" {
		t.Fatalf("query = %q", gotQuery)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].CreatedAt != 1700000000 {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestConversationDecodesRecord(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/r1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"r1","title":"Deck repair","client_id":"c1","worker_id":"w1","counterpart_id":"w1","counterpart_name":"dana"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/api", "tok", nil)
	rec, err := c.Conversation(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if rec.Title != "Deck repair" || rec.CounterpartID != "w1" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestConversationSurfacesErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/api", "tok", nil)
	if _, err := c.Conversation(context.Background(), "missing"); err == nil {
		t.Fatal("Conversation succeeded on 404")
	}
}

func TestUploadAttachment(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("filename"); got != "quote.pdf" {
			t.Errorf("filename = %q", got)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("content type = %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"filename":"quote.pdf","url":"https://files.example.com/1/quote.pdf","mime_type":"application/pdf","size_bytes":7}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/api", "tok", nil)
	rec, err := c.UploadAttachment(context.Background(), "quote.pdf", "application/pdf", []byte("pdfdata"))
	if err != nil {
		t.Fatalf("UploadAttachment: %v", err)
	}
	if rec.URL == "" || rec.SizeBytes != 7 {
		t.Fatalf("record = %+v", rec)
	}
}
