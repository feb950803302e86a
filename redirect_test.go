package oauth

import (
	"net/url"
	"testing"
)

func TestAddQueryParams(t *testing.T) {
	tests := []struct {
		name        string
		redirectURI string
		params      url.Values
		want        string
	}{
		{
			name:        "no existing query",
			redirectURI: "http://cb",
			params:      url.Values{"code": {"abc"}},
			want:        "http://cb?code=abc",
		},
		{
			name:        "existing query kept",
			redirectURI: "http://cb?x=1",
			params:      url.Values{"code": {"abc"}},
			want:        "http://cb?x=1&code=abc",
		},
		{
			name:        "semicolon pair kept verbatim",
			redirectURI: "http://cb?x=1;y=2",
			params:      url.Values{"code": {"CODE"}, "state": {"s"}},
			want:        "http://cb?x=1;y=2&code=CODE&state=s",
		},
		{
			name:        "bad escape kept verbatim",
			redirectURI: "http://cb?x=%zz&y=1",
			params:      url.Values{"code": {"CODE"}},
			want:        "http://cb?x=%zz&y=1&code=CODE",
		},
		{
			name:        "override keeps other pairs in place",
			redirectURI: "http://cb?state=old&x=1&state=older",
			params:      url.Values{"state": {"new"}},
			want:        "http://cb?x=1&state=new",
		},
		{
			name:        "escaped key overridden",
			redirectURI: "http://cb?st%61te=old",
			params:      url.Values{"state": {"new"}},
			want:        "http://cb?state=new",
		},
		{
			name:        "new value overrides existing key",
			redirectURI: "http://cb?state=old",
			params:      url.Values{"state": {"new"}},
			want:        "http://cb?state=new",
		},
		{
			name:        "empty values skipped",
			redirectURI: "https://app.example.com/cb",
			params:      url.Values{"code": {"abc"}, "state": {""}},
			want:        "https://app.example.com/cb?code=abc",
		},
		{
			name:        "nothing to add",
			redirectURI: "http://cb?x=1;y=2",
			params:      url.Values{"state": {""}},
			want:        "http://cb?x=1;y=2",
		},
		{
			name:        "path and fragment untouched",
			redirectURI: "https://app.example.com/a/b#section",
			params:      url.Values{"code": {"abc"}},
			want:        "https://app.example.com/a/b?code=abc#section",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddQueryParams(tt.redirectURI, tt.params)
			if err != nil {
				t.Fatalf("AddQueryParams() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("AddQueryParams() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddQueryParams_InvalidURI(t *testing.T) {
	if _, err := AddQueryParams("http://[::1", url.Values{"code": {"abc"}}); err == nil {
		t.Error("expected error for unparsable URI")
	}
}

func TestValidateRedirectURI(t *testing.T) {
	tests := []struct {
		uri           string
		requireSecure bool
		wantErr       bool
	}{
		{"http://cb", false, false},
		{"https://app.example.com/cb?x=1", false, false},
		{"/relative", false, true},
		{"cb", false, true},
		{"http:///no-host", false, true},
		{"javascript:alert(1)", false, true},
		{"myapp://callback", false, true},
		{"http://app.example.com/cb", true, true},
		{"http://localhost:3000/cb", true, false},
		{"http://[::1]:3000/cb", true, false},
		{"http://10.0.0.1/cb", true, true},
		{"https://app.example.com/cb", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			err := validateRedirectURI(tt.uri, tt.requireSecure)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRedirectURI(%q, %v) error = %v, wantErr %v", tt.uri, tt.requireSecure, err, tt.wantErr)
			}
		})
	}
}
