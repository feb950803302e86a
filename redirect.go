package oauth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/oauth-authcode/internal/util"
)

// AddQueryParams returns redirectURI with params merged into its query string.
// The existing query is kept byte for byte, except pairs whose key params
// sets. Empty values in params are skipped. Path and fragment are untouched.
func AddQueryParams(redirectURI string, params url.Values) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect_uri: %w", err)
	}

	added := url.Values{}
	for key, values := range params {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		added[key] = values
	}
	if len(added) == 0 {
		return u.String(), nil
	}

	var pairs []string
	if u.RawQuery != "" {
		for _, pair := range strings.Split(u.RawQuery, "&") {
			if _, override := added[rawQueryKey(pair)]; override {
				continue
			}
			pairs = append(pairs, pair)
		}
	}
	pairs = append(pairs, added.Encode())
	u.RawQuery = strings.Join(pairs, "&")

	return u.String(), nil
}

// rawQueryKey returns the decoded key of a raw query pair, or the raw key
// when it does not decode.
func rawQueryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	if decoded, err := url.QueryUnescape(key); err == nil {
		return decoded
	}
	return key
}

// redirectURIWithCode builds the default success redirect.
func redirectURIWithCode(redirectURI, code, state string) (string, error) {
	return AddQueryParams(redirectURI, url.Values{
		"code":  {code},
		"state": {state},
	})
}

// redirectURIWithError builds an error redirect.
func redirectURIWithError(redirectURI string, oauthErr *OAuthError, state string) (string, error) {
	return AddQueryParams(redirectURI, url.Values{
		"error":             {oauthErr.Code},
		"error_description": {oauthErr.Description},
		"state":             {state},
	})
}

// validateRedirectURI checks that redirectURI can be redirected to: an
// absolute URL with a host. With requireSecure, http is only accepted for
// loopback hosts.
func validateRedirectURI(redirectURI string, requireSecure bool) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("redirect_uri must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported redirect_uri scheme %q", u.Scheme)
	}
	if !requireSecure || u.Scheme == "https" {
		return nil
	}
	if util.ClassifyHost(u.Hostname()) != util.HostLoopback {
		return fmt.Errorf("redirect_uri must use https for non-loopback host %q", u.Hostname())
	}
	return nil
}
