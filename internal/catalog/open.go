package catalog

import "fmt"

// Open builds a catalog from the type/options pair given on the command line.
// "none" disables the catalog and returns a nil Catalog.
func Open(kind, options string) (Catalog, error) {
	switch kind {
	case "sqlite":
		c, err := NewSQLiteCatalog(options)
		if err != nil {
			return nil, fmt.Errorf("open sqlite catalog %q: %w", options, err)
		}
		return c, nil
	case "etcd":
		c, err := NewEtcdCatalog(options)
		if err != nil {
			return nil, fmt.Errorf("open etcd catalog %q: %w", options, err)
		}
		return c, nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown catalog type %q", kind)
	}
}
