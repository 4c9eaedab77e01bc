// factory.go is the backend registry: backend packages register a constructor
// under their config name at init time, and New dispatches on
// cfg.Archive.Backend.
package archive

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chronobill/chronobill/internal/config"
)

// FactoryFunc builds a Store from the full application config.
type FactoryFunc func(*config.Config) (Store, error)

var factories = make(map[string]FactoryFunc)

// Register makes a backend constructor available under name. Called from
// backend package init functions; a later registration under the same name
// replaces the earlier one.
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// New builds the backend selected by cfg.Archive.Backend.
func New(cfg *config.Config) (Store, error) {
	build, ok := factories[cfg.Archive.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown archive backend %q (registered: %s)",
			cfg.Archive.Backend, strings.Join(registeredBackends(), ", "))
	}
	return build(cfg)
}

func registeredBackends() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
