package scanner

import (
	"fmt"

	"PartsScanner/internal/domain"
)

// Pagination describes how many pages a listing spans and where they live.
type Pagination struct {
	Count int
	Links map[int]string
}

// Link returns the URL of page index (1-based), if the markup exposed one.
func (p Pagination) Link(index int) (string, bool) {
	link, ok := p.Links[index]
	return link, ok && link != ""
}

// Article is one product fragment of a listing page.
type Article interface {
	Record(item domain.WorkItem) (domain.ProductRecord, error)
}

// Page is a parsed listing page.
type Page interface {
	Articles() ([]Article, error)
	Pagination() (Pagination, error)
}

// Parser captures a single listing template implementation.
type Parser interface {
	Name() string
	Parse(content []byte) (Page, error)
}

// Registry keeps a mapping from parser names to their implementations.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: map[string]Parser{}}
}

// Register adds or replaces a parser implementation.
func (r *Registry) Register(parser Parser) {
	if r.parsers == nil {
		r.parsers = map[string]Parser{}
	}
	r.parsers[parser.Name()] = parser
}

// Resolve returns a parser by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Parser, error) {
	if parser, ok := r.parsers[name]; ok {
		return parser, nil
	}
	return nil, fmt.Errorf("parser %s is not registered", name)
}
