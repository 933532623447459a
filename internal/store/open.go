package store

import (
	"fmt"
	"strings"

	"google.golang.org/grpc"
)

// Open builds a store from the type/options pair given on the command line:
// "fs" takes a directory, "nw" a comma separated list of node addresses.
func Open(kind, options string, opts ...grpc.DialOption) (Store, error) {
	switch kind {
	case "fs":
		if options == "" {
			return nil, fmt.Errorf("fs store needs a directory")
		}
		return NewFSStore(options)
	case "nw":
		var addrs []string
		for _, a := range strings.Split(options, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		return NewNWStore(addrs, opts...)
	default:
		return nil, fmt.Errorf("unknown content type %q", kind)
	}
}
