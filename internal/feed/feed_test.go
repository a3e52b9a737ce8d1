package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"pmm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var bookWithOnlyBids = types.BookResponse{
	Bids: []types.PriceLevel{{Price: "0.44", Size: "100"}},
}

var bookWithBothSides = types.BookResponse{
	Bids: []types.PriceLevel{{Price: "0.44", Size: "100"}},
	Asks: []types.PriceLevel{{Price: "0.46", Size: "50"}},
}

func TestGetMidpointParsesValue(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token_id") != "tok1" {
			t.Errorf("expected token_id=tok1, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mid":"0.47"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger())
	got := c.GetMidpoint(context.Background(), "tok1")
	if got == nil || *got != 0.47 {
		t.Fatalf("GetMidpoint = %v, want 0.47", got)
	}
}

func TestGetMidpointReturnsNilOnServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger())
	if got := c.GetMidpoint(context.Background(), "tok1"); got != nil {
		t.Fatalf("expected nil, got %v", *got)
	}
}

func TestGetOrderBookAcceptsObjectAndTupleLevels(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"asset_id":"tok1","bids":[{"price":"0.44","size":"100"}],"asks":[["0.46","50"]]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger())
	book := c.GetOrderBook(context.Background(), "tok1")
	if book == nil {
		t.Fatal("expected a book, got nil")
	}
	if len(book.Bids) != 1 || book.Bids[0].Price != "0.44" {
		t.Fatalf("bids not parsed: %+v", book.Bids)
	}
	if len(book.Asks) != 1 || book.Asks[0].Price != "0.46" || book.Asks[0].Size != "50" {
		t.Fatalf("tuple-form asks not parsed: %+v", book.Asks)
	}
}

func TestGetTickSizeFallsBackAcrossFieldNames(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tick_size":0.01}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger())
	got := c.GetTickSize(context.Background(), "tok1")
	if got == nil || *got != 0.01 {
		t.Fatalf("GetTickSize = %v, want 0.01", got)
	}
}

func TestGetTickSizeReturnsNilWhenAllFieldsAbsent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger())
	if got := c.GetTickSize(context.Background(), "tok1"); got != nil {
		t.Fatalf("expected nil, got %v", *got)
	}
}

func TestBestBidAskRequiresBothSides(t *testing.T) {
	t.Parallel()
	_, _, ok := BestBidAsk(nil)
	if ok {
		t.Fatal("expected ok=false for nil book")
	}

	_, _, ok = BestBidAsk(&bookWithOnlyBids)
	if ok {
		t.Fatal("expected ok=false when asks are empty")
	}

	bid, ask, ok := BestBidAsk(&bookWithBothSides)
	if !ok || bid != 0.44 || ask != 0.46 {
		t.Fatalf("BestBidAsk = %v %v %v, want 0.44 0.46 true", bid, ask, ok)
	}
}

func TestDepthTopSumsAcrossLevels(t *testing.T) {
	t.Parallel()
	got := DepthTop(&bookWithBothSides, 1)
	want := 100.0 + 50.0
	if got != want {
		t.Fatalf("DepthTop = %v, want %v", got, want)
	}
}
