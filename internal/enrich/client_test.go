package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hearthside/household-scheduler/internal/domain"
)

func TestClientEnhanceTaskToEvent(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(TaskEnhancement{
			SuggestedLocation: "City pool",
			PreparationList:   []string{"Pack towels"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	task := domain.Task{Title: "Swim lessons", Category: "kids", Priority: 2, DueDate: time.Now()}
	out, err := c.EnhanceTaskToEvent(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/v1/enrich/task" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotBody["title"] != "Swim lessons" || gotBody["category"] != "kids" {
		t.Fatalf("payload = %v", gotBody)
	}
	if out.SuggestedLocation != "City pool" || len(out.PreparationList) != 1 {
		t.Fatalf("response = %+v", out)
	}
}

func TestClientFollowUps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/suggest/follow-ups" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]FollowUpSuggestion{{Title: "Buy goggles"}, {Title: "Sign waiver"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	out, err := c.SuggestFollowUps(context.Background(), domain.Task{Title: "Swim"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Title != "Buy goggles" {
		t.Fatalf("follow-ups = %+v", out)
	}
}

func TestClientWrapsFailuresAsExternalService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.SuggestEventFromTask(context.Background(), domain.Task{Title: "T"})
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("5xx response: got %v", err)
	}

	// Transport failure: nothing listens on the closed server anymore.
	srv.Close()
	_, err = c.EnrichEvent(context.Background(), EventInput{Title: "T"})
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("transport failure: got %v", err)
	}
}

func TestNoopNeverErrors(t *testing.T) {
	ctx := context.Background()
	var svc Service = Noop{}
	if _, err := svc.EnrichEvent(ctx, EventInput{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EnhanceTaskToEvent(ctx, domain.Task{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SuggestEventFromTask(ctx, domain.Task{}); err != nil {
		t.Fatal(err)
	}
	out, err := svc.SuggestFollowUps(ctx, domain.Task{})
	if err != nil || len(out) != 0 {
		t.Fatalf("follow-ups = %v, err = %v", out, err)
	}
}
