// Package schema describes the archive document structure: which elements
// exist, which attributes they carry and which children they may contain.
// The encoder and the parser both work from this table instead of repeating
// tag and attribute literals.
package schema

const (
	TagDatabase = "database"
	TagTable    = "table"
	TagRow      = "row"
	TagColumn   = "column"

	AttrName     = "name"
	AttrPrimeKey = "prime_key"
	AttrType     = "type"
)

// Element describes one recognized element kind.
type Element struct {
	Tag      string
	Attrs    []string // in the order the encoder writes them
	Children []string
	Depth    int  // nesting level below the root, used for indentation
	HasText  bool // element content is a value rather than child elements
}

var elements = map[string]Element{
	TagDatabase: {Tag: TagDatabase, Children: []string{TagTable}, Depth: 0},
	TagTable:    {Tag: TagTable, Attrs: []string{AttrName, AttrPrimeKey}, Children: []string{TagRow}, Depth: 1},
	TagRow:      {Tag: TagRow, Children: []string{TagColumn}, Depth: 2},
	TagColumn:   {Tag: TagColumn, Attrs: []string{AttrName, AttrType}, Depth: 3, HasText: true},
}

// Root is the tag every document starts with.
const Root = TagDatabase

// Lookup returns the element description for tag.
func Lookup(tag string) (Element, bool) {
	e, ok := elements[tag]
	return e, ok
}

// MustLookup is Lookup for tags known at compile time.
func MustLookup(tag string) Element {
	e, ok := elements[tag]
	if !ok {
		panic("schema: unknown element " + tag)
	}
	return e
}

// Allows reports whether child is a recognized child element of parent.
func Allows(parent, child string) bool {
	e, ok := elements[parent]
	if !ok {
		return false
	}
	for _, c := range e.Children {
		if c == child {
			return true
		}
	}
	return false
}

// Known reports whether tag is one of the structural tags.
func Known(tag string) bool {
	_, ok := elements[tag]
	return ok
}
