package universe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoadUnknownUniverse(t *testing.T) {
	r := NewResolver(time.Minute)
	_, err := r.Load(context.Background(), "made-up-universe")
	if err == nil {
		t.Fatal("expected ErrUnknownUniverse")
	}
}

func TestLoadFallsBackWhenUpstreamUnreachable(t *testing.T) {
	orig := sources["sp500"]
	defer func() { sources["sp500"] = orig }()
	sources["sp500"] = universeSource{
		url:      "http://127.0.0.1:0/unreachable",
		selector: orig.selector,
		column:   orig.column,
		fallback: []string{"AAA", "BBB"},
	}

	r := NewResolver(time.Minute)
	symbols, err := r.Load(context.Background(), "sp500")
	if err != nil {
		t.Fatalf("Load should fall back, not error: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAA" {
		t.Errorf("symbols = %v, want fallback [AAA BBB]", symbols)
	}
}

func TestLoadScrapesConstituentsTable(t *testing.T) {
	html := `<html><body><table id="constituents"><tbody>
<tr><td>ZZZ</td><td>Zeta Corp</td></tr>
<tr><td>BRK.B</td><td>Berkshire</td></tr>
</tbody></table></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}))
	defer srv.Close()

	orig := sources["sp500"]
	defer func() { sources["sp500"] = orig }()
	sources["sp500"] = universeSource{
		url:      srv.URL,
		selector: "#constituents tbody tr",
		column:   0,
		fallback: []string{"FALLBACK"},
	}

	r := NewResolver(time.Minute)
	symbols, err := r.Load(context.Background(), "sp500")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "ZZZ" || symbols[1] != "BRK-B" {
		t.Errorf("symbols = %v, want [ZZZ BRK-B]", symbols)
	}
}

func TestLoadCachesResult(t *testing.T) {
	hits := 0
	html := `<html><body><table id="constituents"><tbody><tr><td>AAA</td></tr></tbody></table></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(html))
	}))
	defer srv.Close()

	orig := sources["sp500"]
	defer func() { sources["sp500"] = orig }()
	sources["sp500"] = universeSource{url: srv.URL, selector: "#constituents tbody tr", column: 0, fallback: []string{"FALLBACK"}}

	r := NewResolver(time.Minute)
	if _, err := r.Load(context.Background(), "sp500"); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if _, err := r.Load(context.Background(), "sp500"); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if hits != 1 {
		t.Errorf("upstream hits = %d, want 1", hits)
	}
}

func TestFallbackSnapshotsNonEmpty(t *testing.T) {
	for id, src := range sources {
		if len(src.fallback) == 0 {
			t.Errorf("universe %q has an empty fallback snapshot", id)
		}
	}
}
