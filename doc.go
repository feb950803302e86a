// Package oauth implements the server side of the OAuth 2.0 Authorization
// Code Grant (RFC 6749 section 4.1).
//
// Server issues codes on the authorization endpoint and redeems them for
// bearer access tokens on the token endpoint. Handler exposes both over HTTP:
//
//	store := memory.New()
//	srv, err := oauth.NewServer(store, &oauth.Config{}, logger)
//	if err != nil {
//		return err
//	}
//	http.ListenAndServe(":8008", oauth.NewHandler(srv, logger).Routes())
//
// Codes are single use and expire after Config.AuthorizationCodeTTL. Four
// extension points let callers take over the authorization response or
// inspect and extend token responses; see package plugins.
package oauth
