package httpx

import (
	"net/url"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	var payload struct {
		Title string `json:"title"`
	}

	if err := DecodeJSON(strings.NewReader(`{"title":"ok"}`), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Title != "ok" {
		t.Fatalf("expected ok, got %q", payload.Title)
	}

	if err := DecodeJSON(strings.NewReader(`{"title":"ok","bogus":1}`), &payload); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if err := DecodeJSON(strings.NewReader(`{"title":"a"}{"title":"b"}`), &payload); err == nil {
		t.Fatalf("expected trailing object to be rejected")
	}
	if err := DecodeJSON(strings.NewReader(`not json`), &payload); err == nil {
		t.Fatalf("expected malformed body to be rejected")
	}
}

func TestParseLimitOffset(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int64
		wantOffset int64
		wantErr    bool
	}{
		{name: "defaults", query: "", wantLimit: 20, wantOffset: 0},
		{name: "explicit", query: "limit=50&offset=10", wantLimit: 50, wantOffset: 10},
		{name: "capped", query: "limit=500", wantLimit: 100},
		{name: "zero limit", query: "limit=0", wantErr: true},
		{name: "negative offset", query: "offset=-1", wantErr: true},
		{name: "garbage", query: "limit=abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, _ := url.ParseQuery(tt.query)
			limit, offset, err := ParseLimitOffset(values, 20, 100)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Fatalf("expected %d/%d, got %d/%d", tt.wantLimit, tt.wantOffset, limit, offset)
			}
		})
	}
}
