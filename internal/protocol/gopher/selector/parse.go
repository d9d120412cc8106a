package selector

import (
	"strings"

	"github.com/marmos91/gopherd/internal/protocol/gopher/types"
)

// Options controls how a decoded line is split into its parts.
type Options struct {
	// VHost keeps the ";host" hint. When false the hint is still removed
	// from the selector but discarded.
	VHost bool

	// HTTPQuery treats "?" like TAB as the start of the query string.
	HTTPQuery bool
}

// Request is a decoded line split into its parts.
type Request struct {
	// Selector starts with "/", has no "/." and no duplicate slashes.
	Selector string

	// Query is the text after the first TAB (or "?").
	Query string

	// VHostHint is the host named after ";", empty when absent or rejected.
	VHostHint string

	// Protocol is the dialect marker, types.ProtocolGopher by default.
	Protocol types.Protocol
}

// Parse splits a decoded line (see Decode) into selector, query, vhost hint
// and protocol marker in a single left-to-right pass.
//
// The "/." rule is applied to the whole decoded line before anything else:
// it blocks dotfiles, ".." traversal and hidden paths with one check, and it
// runs before any filesystem path can be built from the selector.
//
// Returns:
//   - *Request on success
//   - ErrAccessDenied (as *types.GopherError) if the line contains "/."
func Parse(decoded string, opts Options) (*Request, error) {
	if strings.Contains(decoded, "/.") {
		return nil, types.NewError(types.ErrAccessDenied, "refusing to serve dotfiles")
	}

	req := &Request{Protocol: types.ProtocolGopher}

	var sel strings.Builder
	sel.Grow(len(decoded))

	for i := 0; i < len(decoded); {
		c := decoded[i]

		switch {
		case c == '/':
			sel.WriteByte('/')
			for i < len(decoded) && decoded[i] == '/' {
				i++
			}
			continue

		case c == '\t' || (opts.HTTPQuery && c == '?'):
			req.Query, req.Protocol = splitProtocol(decoded[i+1:])
			i = len(decoded)
			continue

		case c == ';':
			end := strings.IndexByte(decoded[i+1:], '\t')
			var hint string
			if end < 0 {
				hint = decoded[i+1:]
				i = len(decoded)
			} else {
				hint = decoded[i+1 : i+1+end]
				i = i + 1 + end
			}
			if opts.VHost && validHint(hint) {
				req.VHostHint = hint
			}
			continue
		}

		sel.WriteByte(c)
		i++
	}

	req.Selector = sel.String()
	if req.Selector == "" {
		req.Selector = types.Root
	}

	return req, nil
}

// splitProtocol separates a trailing TAB-delimited protocol token from the
// query string. "+" (and the gopher+ attribute forms "!" and "$") mark a
// gopher+ request; any other non-empty token is kept verbatim.
func splitProtocol(query string) (string, types.Protocol) {
	tab := strings.IndexByte(query, '\t')
	if tab < 0 {
		return query, types.ProtocolGopher
	}

	token := query[tab+1:]
	query = query[:tab]

	switch {
	case token == "":
		return query, types.ProtocolGopher
	case token[0] == '+' || token[0] == '!' || token[0] == '$':
		return query, types.ProtocolGopherPlus
	default:
		return query, types.Protocol(token)
	}
}

// validHint rejects vhost hints that could name something other than an
// immediate subdirectory of the root.
func validHint(hint string) bool {
	return hint != "" && hint[0] != '.' && !strings.ContainsAny(hint, "/\x00")
}
