package request_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.astrophena.name/unhook/internal/request"
)

func TestMake(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check the request method and path.
		if r.Method != http.MethodPost || r.URL.Path != "/test" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if r.Body == nil {
			http.Error(w, "missing request body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": "success"}`))
	}))
	defer ts.Close()

	cases := map[string]struct {
		params  request.Params
		want    string
		wantErr bool
	}{
		"successful request": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/test",
				Body:   map[string]string{"key": "value"},
			},
			want: `{"message": "success"}`,
		},
		"successful request with headers": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/test",
				Headers: map[string]string{
					"X-Test": "test",
				},
				Body: map[string]string{"key": "value"},
			},
			want: `{"message": "success"}`,
		},
		"custom HTTP client": {
			params: request.Params{
				Method:     http.MethodPost,
				URL:        ts.URL + "/test",
				HTTPClient: &http.Client{},
				Body:       map[string]string{"key": "value"},
			},
			want: `{"message": "success"}`,
		},
		"invalid request method": {
			params: request.Params{
				Method: http.MethodGet,
				URL:    ts.URL + "/test",
			},
			wantErr: true,
		},
		"invalid request path": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/invalid",
			},
			wantErr: true,
		},
		"invalid value for JSON": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/test",
				Body:   make(chan int),
			},
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var resp json.RawMessage
			resp, err := request.Make[json.RawMessage](context.Background(), tc.params)
			if err != nil {
				if !tc.wantErr {
					t.Errorf("Make() error = %v, wantErr %v", err, tc.wantErr)
				}
				return
			}
			if tc.wantErr {
				t.Errorf("Make() expected error, got none")
			} else if string(resp) != tc.want {
				t.Errorf("Make() got = %v, want %v", resp, tc.want)
			}
		})
	}
}

func TestMakeRawBytes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("definitely not JSON"))
	}))
	defer ts.Close()

	b, err := request.Make[[]byte](context.Background(), request.Params{
		Method: http.MethodGet,
		URL:    ts.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != "definitely not JSON" {
		t.Errorf("Make() = %q, want %q", got, "definitely not JSON")
	}
}

func TestMakeStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	defer ts.Close()

	_, err := request.Make[request.IgnoreResponse](context.Background(), request.Params{
		Method: http.MethodGet,
		URL:    ts.URL,
	})
	var se *request.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("got error %v, want StatusError", err)
	}
	if se.StatusCode != http.StatusTeapot {
		t.Errorf("StatusCode = %d, want %d", se.StatusCode, http.StatusTeapot)
	}
}

func TestMakeScrubsErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token secret123 is invalid", http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := request.Make[request.IgnoreResponse](context.Background(), request.Params{
		Method:   http.MethodGet,
		URL:      ts.URL,
		Scrubber: strings.NewReplacer("secret123", "[EXPUNGED]"),
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if strings.Contains(err.Error(), "secret123") {
		t.Errorf("error message %q contains unscrubbed secret", err)
	}
	if !strings.Contains(err.Error(), "[EXPUNGED]") {
		t.Errorf("error message %q doesn't contain scrub placeholder", err)
	}
}
