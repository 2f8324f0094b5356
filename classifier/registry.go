package classifier

import (
	"fmt"
	"slices"
	"strings"
)

// Names of the built-in classifiers.
const (
	NamePassthrough = "passthrough"
	NameSignal      = "signal"
)

// registry is fixed at compile time; configuration selects from it by name.
var registry = map[string]func() Classifier{
	NamePassthrough: func() Classifier { return Passthrough{} },
	NameSignal:      func() Classifier { return NewSignalCaller() },
}

// New returns the built-in classifier registered under name.
func New(name string) (Classifier, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrNotFound, name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names lists the built-in classifiers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
