// Package config implements the directive-tree configuration format and the
// reflection-based config.Map binding mechanism used to wire every module in
// the kernel.
package config

import "fmt"

// Node is one directive in a parsed configuration tree: a name, its
// arguments, and any nested block of child directives. File/Line are
// populated by Parse so that error messages can point at source text.
type Node struct {
	Name     string
	Args     []string
	Children []Node

	File string
	Line int
}

// NodeErr builds an error message, prefixing it with the node's source
// location when known.
func NodeErr(node *Node, f string, args ...interface{}) error {
	if node.File == "" {
		return fmt.Errorf(f, args...)
	}
	return fmt.Errorf("%s:%d: %s", node.File, node.Line, fmt.Sprintf(f, args...))
}
