package smtp

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Extensions maps upper-cased extension names to the parameter text the server
// advertised for them in the EHLO reply.
type Extensions map[string]string

// parseExtensions reads the capabilities from an EHLO reply. The first line is
// the greeting and is skipped.
func parseExtensions(r Reply) Extensions {
	ext := make(Extensions)
	if len(r.TextLines) < 2 {
		return ext
	}
	for _, line := range r.TextLines[1:] {
		name, params, _ := strings.Cut(line, " ")
		ext[strings.ToUpper(name)] = params
	}
	return ext
}

// Names returns the sorted extension names.
func (e Extensions) Names() []string {
	names := make([]string, 0, len(e))
	for n := range e {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Extension is an activated service extension, bound to the client it was
// activated on.
type Extension interface {
	Name() string
}

// ExtensionFunc constructs an extension from the space-separated parameters
// the server advertised for it.
type ExtensionFunc func(c *Client, params []string) Extension

var (
	registryMu sync.RWMutex
	registry   = map[string]ExtensionFunc{
		"AUTH": newAuthExtension,
	}
)

// RegisterExtension makes the extension name available to Client.Extension.
// It replaces any existing registration for the name.
func RegisterExtension(name string, fn ExtensionFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToUpper(name)] = fn
}

func lookupExtension(name string) (ExtensionFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Extension activates the extension name.
//
// It returns *ExtensionNotSupportedError if the server didn't advertise it.
func (c *Client) Extension(name string) (Extension, error) {
	name = strings.ToUpper(name)
	params, ok := c.ext[name]
	if !ok {
		return nil, &ExtensionNotSupportedError{Name: name}
	}
	fn, ok := lookupExtension(name)
	if !ok {
		return nil, fmt.Errorf("smtp.Client.Extension: no implementation registered for %s", name)
	}
	return fn(c, strings.Fields(params)), nil
}

// Supports reports whether the server advertised the extension, and the
// parameters it advertised.
func (c *Client) Supports(name string) (string, bool) {
	params, ok := c.ext[strings.ToUpper(name)]
	return params, ok
}

// Extensions returns all extensions the server advertised in the last EHLO
// reply.
func (c *Client) Extensions() Extensions {
	cp := make(Extensions, len(c.ext))
	for k, v := range c.ext {
		cp[k] = v
	}
	return cp
}
