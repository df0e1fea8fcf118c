package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }
func i(v int64) *int64     { return &v }

func newTestServer(t *testing.T, resp chartResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sampleChart(symbol string) chartResponse {
	var resp chartResponse
	resp.Chart.Result = []chartResult{{
		Timestamp: []int64{1700000000, 1700086400, 1700172800},
		Indicators: indicators{Quote: []quote{{
			Open:   []*float64{f(100), f(101), f(102)},
			High:   []*float64{f(101), f(102), f(103)},
			Low:    []*float64{f(99), f(100), f(101)},
			Close:  []*float64{f(100.5), f(101.5), f(102.5)},
			Volume: []*int64{i(1000), i(1100), i(1200)},
		}}},
	}}
	return resp
}

func TestLoadBarsSingleSymbol(t *testing.T) {
	srv := newTestServer(t, sampleChart("AAA"))
	p := NewProvider(Config{})
	p.baseURL = srv.URL

	bars, err := p.LoadBars(context.Background(), []string{"AAA"}, time.Unix(1700000000, 0), time.Unix(1700200000, 0), "1d")
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	got := bars["AAA"]
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Close != 100.5 || got[0].Volume != 1000 {
		t.Errorf("bar[0] = %+v", got[0])
	}
}

func TestLoadBarsCachesSecondFetch(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(sampleChart("AAA"))
	}))
	defer srv.Close()

	p := NewProvider(Config{})
	p.baseURL = srv.URL

	start, end := time.Unix(1700000000, 0), time.Unix(1700200000, 0)
	if _, err := p.LoadBars(context.Background(), []string{"AAA"}, start, end, "1d"); err != nil {
		t.Fatalf("first LoadBars: %v", err)
	}
	if _, err := p.LoadBars(context.Background(), []string{"AAA"}, start, end, "1d"); err != nil {
		t.Fatalf("second LoadBars: %v", err)
	}
	if hits != 1 {
		t.Errorf("upstream hits = %d, want 1 (second call should be served from cache)", hits)
	}
}

func TestLoadBarsSkipsMissingClose(t *testing.T) {
	var resp chartResponse
	resp.Chart.Result = []chartResult{{
		Timestamp: []int64{1700000000, 1700086400},
		Indicators: indicators{Quote: []quote{{
			Close: []*float64{f(100.5), nil},
		}}},
	}}
	srv := newTestServer(t, resp)
	p := NewProvider(Config{})
	p.baseURL = srv.URL

	bars, err := p.LoadBars(context.Background(), []string{"AAA"}, time.Unix(1700000000, 0), time.Unix(1700200000, 0), "1d")
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(bars["AAA"]) != 1 {
		t.Fatalf("len = %d, want 1 (gap bar skipped)", len(bars["AAA"]))
	}
}

func TestLoadBarsPartialFailureReturnsSucceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Path[len("/"):]
		if sym == "BAD" {
			var resp chartResponse
			resp.Chart.Error = &chartError{Code: "Not Found", Description: "no data found"}
			json.NewEncoder(w).Encode(resp)
			return
		}
		json.NewEncoder(w).Encode(sampleChart(sym))
	}))
	defer srv.Close()

	p := NewProvider(Config{})
	p.baseURL = srv.URL

	bars, err := p.LoadBars(context.Background(), []string{"AAA", "BAD"}, time.Unix(1700000000, 0), time.Unix(1700200000, 0), "1d")
	if err == nil {
		t.Fatal("expected an error describing the failed symbol")
	}
	if len(bars["AAA"]) != 3 {
		t.Errorf("AAA bars = %d, want 3 even though BAD failed", len(bars["AAA"]))
	}
	if _, ok := bars["BAD"]; ok {
		t.Error("BAD should not appear in results")
	}
}

func TestYFInterval(t *testing.T) {
	cases := map[string]string{
		"1d": "1d", "1w": "1wk", "1mon": "1mo", "5m": "5m", "bogus": "1d",
	}
	for in, want := range cases {
		if got := yfInterval(in); got != want {
			t.Errorf("yfInterval(%q) = %q, want %q", in, got, want)
		}
	}
}
