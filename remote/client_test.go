package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/fieldtrail/model"
)

func TestCreateEventRecord(t *testing.T) {
	var got EventRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/records" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(Record{ID: 7, FileName: got.FileName, FileType: got.FileType})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	rec, err := c.CreateEventRecord(context.Background(), &EventRecord{
		FileName:      "Interesting page",
		FileType:      "text",
		ExtractedText: "a snippet",
		SourceURL:     "https://a.example",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != 7 {
		t.Fatalf("id: got %d, want 7", rec.ID)
	}
	if got.FileType != "text" || got.SourceURL != "https://a.example" {
		t.Fatalf("payload: %+v", got)
	}
}

func TestSaveSessionRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			t.Errorf("path: %s", r.URL.Path)
		}
		var rec model.SessionRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Fatal(err)
		}
		if rec.Name != "fieldwork" || len(rec.Trail) != 1 {
			t.Errorf("record: %+v", rec)
		}
		json.NewEncoder(w).Encode(Record{ID: 12})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	id, err := c.SaveSessionRecord(context.Background(), &model.SessionRecord{
		Name:    "fieldwork",
		EndedAt: time.Now(),
		Trail:   []model.TrailEntry{{ID: "trl_1", Kind: model.KindPage, URL: "https://a.example"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 12 {
		t.Fatalf("id: got %d, want 12", id)
	}
}

func TestRejectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.CreateEventRecord(context.Background(), &EventRecord{FileName: "x"})

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("got %v, want *remote.Error", err)
	}
	if rerr.Status != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rerr.Status)
	}
}

func TestUnreachableService(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)
	_, err := c.SaveSessionRecord(context.Background(), &model.SessionRecord{Name: "s"})

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("got %v, want *remote.Error", err)
	}
	if rerr.Status != 0 {
		t.Fatalf("status: got %d, want 0 for transport failure", rerr.Status)
	}
}
