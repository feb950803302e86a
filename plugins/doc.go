// Package plugins provides the extension-point registry used by the
// authorization and token endpoints.
//
// An extension point is identified by one of a fixed set of names. At most one
// handler is registered per name and the last registration wins. Calling an
// extension point yields one of three outcomes:
//
//   - Declined: no handler is registered, or the handler returned ErrDecline.
//     The caller runs its own default behavior.
//   - Handled: the handler returned nil. The caller performs no default behavior.
//   - Failed: the handler returned any other error. The error is passed back
//     unmodified so plugin bugs are never mistaken for a decline.
//
// Example:
//
//	registry := plugins.NewRegistry()
//	err := registry.Register(plugins.AuthorizationGET, func(ctx context.Context, req *plugins.Request) error {
//	    if req.HTTPRequest.URL.Query().Get("prompt") == "none" {
//	        return plugins.ErrDecline
//	    }
//	    renderLoginForm(req.Writer, req.ClientID)
//	    return nil
//	})
package plugins
