package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/api/exports/community/all/table", "test-key", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestExportTable_FollowsPaginationAndDropsRepeatedHeaders(t *testing.T) {
	var gotAuth, gotAccept atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/api/exports/community/all/table/Activities", func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotAccept.Store(r.Header.Get("Accept"))
		switch r.URL.Query().Get("page") {
		case "":
			w.Header().Set("Link", `</api/exports/community/all/table/Activities?page=2>; rel="next", </api/exports/community/all/table/Activities?page=3>; rel="last"`)
			fmt.Fprint(w, "id,name,notes\n1,Tour,\"first, visit\"\n2,Call,\n")
		case "2":
			w.Header().Set("Link", `<?page=3>; rel="next"`)
			fmt.Fprint(w, "id,name,notes\n3,Email,\"multi\nline\"\n")
		case "3":
			// Last page has no trailing newline.
			fmt.Fprint(w, "id,name,notes\n4,Visit,done")
		}
	})
	c := newTestClient(t, mux)

	var buf bytes.Buffer
	stats, err := c.ExportTable(context.Background(), "Activities", &buf)
	if err != nil {
		t.Fatalf("ExportTable: %v", err)
	}

	want := "id,name,notes\n1,Tour,\"first, visit\"\n2,Call,\n3,Email,\"multi\nline\"\n4,Visit,done\n"
	if buf.String() != want {
		t.Fatalf("unexpected document:\n%q\nwant\n%q", buf.String(), want)
	}
	if stats.Pages != 3 {
		t.Errorf("Pages = %d, want 3", stats.Pages)
	}
	if stats.Records != 4 {
		t.Errorf("Records = %d, want 4", stats.Records)
	}
	if stats.Bytes != int64(len(want)) {
		t.Errorf("Bytes = %d, want %d", stats.Bytes, len(want))
	}
	if got := gotAuth.Load(); got != "Bearer test-key" {
		t.Errorf("Authorization = %v", got)
	}
	if got := gotAccept.Load(); got != "text/csv" {
		t.Errorf("Accept = %v", got)
	}
}

func TestExportTable_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad key", http.StatusUnauthorized)
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
					t.Fatalf("expected 401 StatusError, got %v", err)
				}
				if !strings.Contains(se.Error(), "bad key") {
					t.Fatalf("expected body snippet in error, got %q", se.Error())
				}
			},
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrEmptyExport) {
					t.Fatalf("expected ErrEmptyExport, got %v", err)
				}
			},
		},
		{
			name: "second page fails",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("page") == "2" {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				w.Header().Set("Link", `<?page=2>; rel="next"`)
				fmt.Fprint(w, "id\n1\n")
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
					t.Fatalf("expected 502 StatusError, got %v", err)
				}
				if !strings.Contains(err.Error(), "page 2") {
					t.Fatalf("expected page number in error, got %v", err)
				}
			},
		},
		{
			name: "self referencing next link",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Link", `<`+r.URL.Path+`>; rel="next"`)
				fmt.Fprint(w, "id\n1\n")
			},
			check: func(t *testing.T, err error) {
				if err == nil || !strings.Contains(err.Error(), "pagination loop") {
					t.Fatalf("expected pagination loop error, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.ExportTable(context.Background(), "Prospects", &bytes.Buffer{})
			tt.check(t, err)
		})
	}
}

func TestExportTable_HeaderOnlyIsNotEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "id,amount\n")
	}))
	stats, err := c.ExportTable(context.Background(), "DepositTransactions", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ExportTable: %v", err)
	}
	if stats.Records != 0 || stats.Pages != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient("", " "); err == nil {
		t.Fatal("expected error for empty api key")
	}
	if _, err := NewClient("ftp://example.com/x", "k"); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
	c, err := NewClient("", "k")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if got := c.TableURL("DepositTransactions"); got != DefaultBaseURL+"/DepositTransactions" {
		t.Fatalf("TableURL() = %q", got)
	}
}

func TestNewClient_VerboseLogsRequests(t *testing.T) {
	var logs bytes.Buffer
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "id\n1\n")
	}), WithVerbose(true, &logs))

	if _, err := c.ExportTable(context.Background(), "Residents", &bytes.Buffer{}); err != nil {
		t.Fatalf("ExportTable: %v", err)
	}
	if !strings.Contains(logs.String(), "[verbose] welcome home api: GET") {
		t.Fatalf("expected verbose request log, got %q", logs.String())
	}
	if strings.Contains(logs.String(), "test-key") {
		t.Fatal("api key leaked into verbose log")
	}
}

func TestNextLink(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{``, ``},
		{`<https://x/y?page=2>; rel="next"`, `https://x/y?page=2`},
		{`<https://x/y?page=1>; rel="prev", <https://x/y?page=3>; rel="next"`, `https://x/y?page=3`},
		{`<https://x/y?page=9>; rel="last"`, ``},
		{`<https://x/y?page=2>; rel=next`, `https://x/y?page=2`},
		{`<https://x/y?page=2>; title="a"; rel="next last"`, `https://x/y?page=2`},
		{`https://x/y?page=2; rel="next"`, ``},
	}
	for _, tt := range tests {
		if got := NextLink(tt.header); got != tt.want {
			t.Errorf("NextLink(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
