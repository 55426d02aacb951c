package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/dbarchive/internal/model"
	"github.com/JonMunkholm/dbarchive/internal/schema"
)

// Parse reads an archive from r and returns the reconstructed database.
// r is always closed. Any failure abandons the whole parse; no partial
// Database is returned.
func Parse(r io.ReadCloser) (*model.Database, error) {
	defer r.Close()

	p := &parser{tok: newTokenizer(NewBOMSkippingReader(r))}
	db, err := p.parse()
	if err != nil {
		return nil, err
	}
	return db, nil
}

// parser is a recursive-descent reader over tokenizer events. Each step
// starts positioned just after its own start tag and returns after consuming
// the matching end tag.
type parser struct {
	tok *tokenizer
}

func (p *parser) parse() (*model.Database, error) {
	start, err := p.firstElement()
	if err != nil {
		return nil, err
	}
	return p.readDatabase(start)
}

// firstElement advances past the prolog to the root start tag.
func (p *parser) firstElement() (event, error) {
	for {
		ev, err := p.tok.next()
		if err != nil {
			return event{}, err
		}
		switch ev.kind {
		case evText:
			continue
		case evEOF:
			return event{}, fmt.Errorf("%w: document has no root element", ErrMalformedDocument)
		}
		return ev, nil
	}
}

func (p *parser) readDatabase(start event) (*model.Database, error) {
	if err := require(start, schema.TagDatabase); err != nil {
		return nil, err
	}

	db := &model.Database{}
	err := p.readChildren(schema.TagDatabase, func(child event) error {
		t, err := p.readTable(child)
		if err != nil {
			return err
		}
		db.Tables = append(db.Tables, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (p *parser) readTable(start event) (*model.Table, error) {
	if err := require(start, schema.TagTable); err != nil {
		return nil, err
	}

	t := &model.Table{
		Name:       start.attr(schema.AttrName),
		PrimaryKey: start.attr(schema.AttrPrimeKey),
	}
	err := p.readChildren(schema.TagTable, func(child event) error {
		r, err := p.readRow(child)
		if err != nil {
			return err
		}
		t.Rows = append(t.Rows, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", t.Name, err)
	}
	return t, nil
}

func (p *parser) readRow(start event) (*model.Row, error) {
	if err := require(start, schema.TagRow); err != nil {
		return nil, err
	}

	r := &model.Row{}
	err := p.readChildren(schema.TagRow, func(child event) error {
		c, err := p.readColumn(child)
		if err != nil {
			return err
		}
		r.AddColumn(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *parser) readColumn(start event) (*model.Column, error) {
	if err := require(start, schema.TagColumn); err != nil {
		return nil, err
	}

	name := start.attr(schema.AttrName)
	typ, err := model.ParseColumnType(start.attr(schema.AttrType))
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	col, err := model.NewColumn(name, typ)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	hasText := false
	for {
		ev, err := p.tok.next()
		if err != nil {
			return nil, err
		}

		switch ev.kind {
		case evText:
			text.WriteString(ev.text)
			hasText = true
		case evEnd:
			if ev.name != schema.TagColumn {
				return nil, &UnexpectedTagError{Expected: "/" + schema.TagColumn, Actual: ev.describe()}
			}
			if hasText {
				if err := col.SetValue(text.String()); err != nil {
					return nil, err
				}
			}
			return col, nil
		case evStart:
			return nil, &UnexpectedTagError{Expected: "/" + schema.TagColumn, Actual: ev.describe()}
		case evEOF:
			return nil, fmt.Errorf("%w: document ended inside <%s>", ErrMalformedDocument, schema.TagColumn)
		}
	}
}

// readChildren consumes the content of parent up to and including its end
// tag. Recognized child elements go to visit; any other element is skipped
// with its whole subtree. Text between elements is ignored.
func (p *parser) readChildren(parent string, visit func(child event) error) error {
	for {
		ev, err := p.tok.next()
		if err != nil {
			return err
		}

		switch ev.kind {
		case evStart:
			if schema.Allows(parent, ev.name) {
				err = visit(ev)
			} else {
				err = p.skip(ev)
			}
			if err != nil {
				return err
			}
		case evEnd:
			if ev.name != parent {
				return &UnexpectedTagError{Expected: "/" + parent, Actual: ev.describe()}
			}
			return nil
		case evEOF:
			return fmt.Errorf("%w: document ended inside <%s>", ErrMalformedDocument, parent)
		}
	}
}

// skip consumes the element opened by start, including any nested
// elements, and leaves the parser just after its end tag.
func (p *parser) skip(start event) error {
	depth := 1
	for depth > 0 {
		ev, err := p.tok.next()
		if err != nil {
			return err
		}
		switch ev.kind {
		case evStart:
			depth++
		case evEnd:
			depth--
		case evEOF:
			return fmt.Errorf("%w: document ended inside skipped <%s>", ErrMalformedDocument, start.name)
		}
	}
	return nil
}

// require checks that ev is the start tag of the named element.
func require(ev event, tag string) error {
	if ev.kind != evStart || ev.name != tag {
		return &UnexpectedTagError{Expected: tag, Actual: ev.describe()}
	}
	return nil
}
