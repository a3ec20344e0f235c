// Package parser wraps tree-sitter behind a typed syntax tree.
//
// Plugins never touch tree-sitter directly: they receive a *Tree of plain
// Nodes, which keeps grammar loading swappable and makes the chunker and
// symbol extraction testable without native parsers.
package parser

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Tree is a parsed syntax tree plus its source bytes.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
	// HasError is true when tree-sitter recovered from syntax errors.
	// The shard built from such a tree reports partial quality.
	HasError bool
}

// Node is one node of the typed syntax tree.
type Node struct {
	Type      string
	FieldName string // field name in the parent, e.g. "name", "body"
	StartByte uint32
	EndByte   uint32
	StartPoint Point
	EndPoint   Point
	Children  []*Node
	HasError  bool
}

// Point is a zero-indexed source position.
type Point struct {
	Row    uint32
	Column uint32
}

// Parser parses source code for registered languages.
type Parser struct {
	parser   *sitter.Parser
	registry *Registry
}

// New creates a parser using the default language registry.
func New() *Parser {
	return NewWithRegistry(DefaultRegistry())
}

// NewWithRegistry creates a parser with a custom language registry.
func NewWithRegistry(registry *Registry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Parse parses source and returns the typed tree.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.TreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}

	p.parser.SetLanguage(tsLang)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("failed to parse source: nil tree")
	}

	root := convertNode(tsTree.RootNode(), "")
	return &Tree{
		Root:     root,
		Source:   source,
		Language: language,
		HasError: root.HasError,
	}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// convertNode copies a tree-sitter node into the typed tree.
func convertNode(tsNode *sitter.Node, fieldName string) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		FieldName: fieldName,
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}

	for i := 0; i < int(tsNode.ChildCount()); i++ {
		child := tsNode.Child(i)
		if child != nil {
			node.Children = append(node.Children, convertNode(child, tsNode.FieldNameForChild(i)))
		}
	}

	return node
}

// Content returns the source text covered by the node.
func (n *Node) Content(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// ChildByField returns the first child with the given field name.
func (n *Node) ChildByField(field string) *Node {
	for _, child := range n.Children {
		if child.FieldName == field {
			return child
		}
	}
	return nil
}

// FindChildByType returns the first direct child with the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// FindChildrenByType returns all direct children with the given type.
func (n *Node) FindChildrenByType(nodeType string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Type == nodeType {
			result = append(result, child)
		}
	}
	return result
}

// Walk traverses the tree depth-first in document order.
// Returning false from fn prunes the subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// StartLine returns the 1-based inclusive start line.
func (n *Node) StartLine() int { return int(n.StartPoint.Row) + 1 }

// EndLine returns the 1-based inclusive end line.
func (n *Node) EndLine() int { return int(n.EndPoint.Row) + 1 }
