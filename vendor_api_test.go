package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIClientDo(t *testing.T) {
	var gotUA, gotType, gotCookie, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotType = r.Header.Get("Content-Type")
		if c, err := r.Cookie("user_id_v2"); err == nil {
			gotCookie = c.Value
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	client := newAPIClient(nil)
	cookies := []*http.Cookie{{Name: "user_id_v2", Value: "42", Domain: "kktix.com"}}

	code, body, err := client.do(context.Background(), http.MethodPost, srv.URL, []byte(`{"a":1}`), cookies)
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if code != http.StatusAccepted || string(body) != `{"ok":true}` {
		t.Errorf("Unexpected response %d %s", code, body)
	}
	if gotUA != defaultUserAgent {
		t.Errorf("Expected browser user agent, got %q", gotUA)
	}
	if gotType != "application/json" {
		t.Errorf("Expected JSON content type, got %q", gotType)
	}
	if gotCookie != "42" {
		t.Errorf("Expected session cookie, got %q", gotCookie)
	}
	if gotBody != `{"a":1}` {
		t.Errorf("Expected payload, got %q", gotBody)
	}
}

func TestAPIClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			io.WriteString(w, `{"token":"abc"}`)
		case "/html":
			io.WriteString(w, `<html>`)
		default:
			http.Error(w, "gone", http.StatusGone)
		}
	}))
	defer srv.Close()

	client := newAPIClient(srv.Client())

	var out queueResponse
	if err := client.getJSON(context.Background(), srv.URL+"/ok", &out); err != nil || out.Token != "abc" {
		t.Errorf("Expected token 'abc', got %q (err=%v)", out.Token, err)
	}

	if err := client.getJSON(context.Background(), srv.URL+"/html", &out); err == nil {
		t.Error("Expected parse error for HTML body")
	}

	err := client.getJSON(context.Background(), srv.URL+"/missing", &out)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusGone || statusErr.Body != "gone\n" {
		t.Errorf("Expected HTTP 410 error with body, got %v", err)
	}
}

func TestFindCookie(t *testing.T) {
	cookies := []*http.Cookie{nil, {Name: "XSRF-TOKEN", Value: "t"}, {Name: "user_id_v2", Value: "42"}}

	if v, ok := findCookie(cookies, "user_id_v2"); !ok || v != "42" {
		t.Errorf("Expected user_id_v2=42, got %q ok=%v", v, ok)
	}
	if _, ok := findCookie(cookies, "missing"); ok {
		t.Error("Expected missing cookie to be absent")
	}
}
