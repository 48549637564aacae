package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	type target struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	cases := []struct {
		body    string
		wantErr string
	}{
		{`{"name":"a","age":3}`, ""},
		{``, "request body is required"},
		{`{"name":`, "not valid JSON"},
		{`{"age":"old"}`, `field "age" has the wrong type`},
		{`{"nickname":"x"}`, "unknown field"},
		{`{"name":"a"} {"name":"b"}`, "unexpected data"},
		{`{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`, "exceeds"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
		var dst target
		err := decodeJSON(httptest.NewRecorder(), req, &dst)
		switch {
		case tc.wantErr == "" && err != nil:
			t.Fatalf("%q: unexpected error %v", tc.body, err)
		case tc.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tc.wantErr)):
			t.Fatalf("body of %d bytes: expected error containing %q, got %v", len(tc.body), tc.wantErr, err)
		}
	}
}

func TestParsePositiveInt(t *testing.T) {
	v, err := parsePositiveInt("limit", "", 50, 1, 200)
	if err != nil || v != 50 {
		t.Fatalf("expected default 50, got %d %v", v, err)
	}
	if _, err := parsePositiveInt("limit", "0", 50, 1, 200); err == nil || err.Error() != "limit must be between 1 and 200" {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := parsePositiveInt("limit", "ten", 50, 1, 200); err == nil || err.Error() != "limit must be an integer" {
		t.Fatalf("unexpected error %v", err)
	}
}
