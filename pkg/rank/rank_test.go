package rank

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func setupServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenPageRankLookup(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		status    int
		want      Result
		wantError bool
	}{
		{
			name:   "ranked domain",
			body:   `{"status_code":200,"response":[{"status_code":200,"error":"","page_rank_integer":10,"page_rank_decimal":10,"rank":"6","domain":"google.com"}]}`,
			status: http.StatusOK,
			want:   Result{Domain: "google.com", PageRankDecimal: 10, PageRankInteger: 10, Rank: 6, Found: true},
		},
		{
			name:   "unknown domain",
			body:   `{"status_code":200,"response":[{"status_code":404,"error":"Domain not found","page_rank_integer":0,"page_rank_decimal":0,"rank":null,"domain":"nope.example"}]}`,
			status: http.StatusOK,
			want:   Result{Domain: "nope.example"},
		},
		{
			name:   "string decimals",
			body:   `{"status_code":200,"response":[{"status_code":200,"page_rank_integer":"3","page_rank_decimal":"3.42","rank":"254301","domain":"example.com"}]}`,
			status: http.StatusOK,
			want:   Result{Domain: "example.com", PageRankDecimal: 3.42, PageRankInteger: 3, Rank: 254301, Found: true},
		},
		{name: "empty response", body: `{"status_code":200,"response":[]}`, status: http.StatusOK, wantError: true},
		{name: "server error", body: `oops`, status: http.StatusInternalServerError, wantError: true},
		{name: "malformed json", body: `{"response":`, status: http.StatusOK, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("API-OPR"); got != "secret" {
					t.Errorf("API-OPR header = %q", got)
				}
				if got := r.URL.Query().Get("domains[]"); got == "" {
					t.Error("domains[] query parameter missing")
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			opr := NewOpenPageRank(srv.URL, "secret", 0, srv.Client())
			got, err := opr.Lookup(context.Background(), "example.com")
			if tt.wantError {
				if err == nil {
					t.Fatalf("Lookup returned %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if *got != tt.want {
				t.Errorf("Lookup = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestOpenPageRankWithoutKey(t *testing.T) {
	opr := NewOpenPageRank("http://127.0.0.1:1", "", 2, nil)
	if _, err := opr.Lookup(context.Background(), "example.com"); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("Lookup error = %v, want ErrNoAPIKey", err)
	}
}

func TestOpenPageRankHonorsContext(t *testing.T) {
	srv := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	opr := NewOpenPageRank(srv.URL, "secret", 0, srv.Client())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := opr.Lookup(ctx, "example.com"); err == nil {
		t.Fatal("Lookup succeeded with a cancelled context")
	}
}

func TestWaybackCaptures(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		want   int
		err    bool
	}{
		{name: "captured", body: `[["urlkey","timestamp","original"],["com,example)/","20200101000000","http://example.com/"]]`, status: http.StatusOK, want: 1},
		{name: "header only", body: `[["urlkey","timestamp","original"]]`, status: http.StatusOK, want: 0},
		{name: "empty array", body: `[]`, status: http.StatusOK, want: 0},
		{name: "empty body", body: "\n", status: http.StatusOK, want: 0},
		{name: "unavailable", body: "", status: http.StatusServiceUnavailable, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if q.Get("url") != "example.com" || q.Get("output") != "json" || q.Get("limit") != "1" {
					t.Errorf("unexpected query %s", r.URL.RawQuery)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			n, err := NewWayback(srv.URL, srv.Client()).Captures(context.Background(), "example.com", 1)
			if tt.err {
				if err == nil {
					t.Fatal("Captures succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Captures: %v", err)
			}
			if n != tt.want {
				t.Errorf("Captures = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestBlocklist(t *testing.T) {
	feed := strings.NewReader(`# phishing feed
http://login-bank.example/verify

not a url
https://Secure-Pay.example/index.php?id=1
`)
	bl, err := NewBlocklist(feed)
	if err != nil {
		t.Fatalf("NewBlocklist: %v", err)
	}
	if bl.Size() != 2 {
		t.Errorf("Size = %d, want 2", bl.Size())
	}

	tests := []struct {
		name string
		url  string
		host string
		ips  []net.IP
		want bool
	}{
		{name: "feed host", url: "http://login-bank.example/other", host: "login-bank.example", want: true},
		{name: "feed host mixed case", url: "https://secure-pay.example/", host: "Secure-Pay.example", want: true},
		{name: "reported provider", url: "http://shop.esy.es/", host: "shop.esy.es", want: true},
		{name: "reported address", url: "http://example.com/", host: "example.com", ips: []net.IP{net.ParseIP("10.10.10.10")}, want: true},
		{name: "reported ip host", url: "http://146.112.61.108/", host: "146.112.61.108", want: true},
		{name: "clean", url: "https://example.com/", host: "example.com", ips: []net.IP{net.ParseIP("93.184.216.34")}, want: false},
		{name: "reported provider apex", url: "http://ow.ly/abc", host: "ow.ly", want: true},
		{name: "provider name inside a label", url: "https://chat.uaf.edu/", host: "chat.uaf.edu", want: false},
		{name: "provider name spanning labels", url: "https://snow.lyon.fr/", host: "snow.lyon.fr", want: false},
		{name: "provider name mid host", url: "https://recipe.hub.example.com/", host: "recipe.hub.example.com", want: false},
		{name: "longer label with provider suffix", url: "https://www.flat.ua/", host: "www.flat.ua", want: false},
		{name: "google front end", url: "https://mail.example.org/", host: "mail.example.org", ips: []net.IP{net.ParseIP("216.58.192.225"), net.ParseIP("172.217.4.225")}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bl.Listed(tt.url, tt.host, tt.ips); got != tt.want {
				t.Errorf("Listed(%s) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestLoadBlocklist(t *testing.T) {
	bl, err := LoadBlocklist("")
	if err != nil {
		t.Fatalf("LoadBlocklist(\"\"): %v", err)
	}
	if bl.Size() != 0 {
		t.Errorf("built-in list has %d feed hosts", bl.Size())
	}
	if _, err := LoadBlocklist("/nonexistent/feed.txt"); err == nil {
		t.Error("LoadBlocklist of a missing file succeeded")
	}
}
