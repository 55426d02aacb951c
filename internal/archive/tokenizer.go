package archive

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

type eventKind int

const (
	evStart eventKind = iota
	evEnd
	evText
	evEOF
)

// event is one pull-parser step. Entities in text and attribute values are
// already unescaped.
type event struct {
	kind  eventKind
	name  string
	attrs []xml.Attr
	text  string
}

// describe renders ev for error messages.
func (ev event) describe() string {
	switch ev.kind {
	case evStart:
		return ev.name
	case evEnd:
		return "/" + ev.name
	case evText:
		return "#text"
	default:
		return "EOF"
	}
}

// attr returns the value of the named unprefixed attribute, or "" when
// absent. Namespaced attributes such as x:type never match.
func (ev event) attr(name string) string {
	for _, a := range ev.attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// tokenizer reports start-tag, end-tag, text and end-of-document events.
// Comments, processing instructions and directives are dropped.
type tokenizer struct {
	dec *xml.Decoder
	src *sourceReader
}

func newTokenizer(r io.Reader) *tokenizer {
	src := &sourceReader{r: r}
	dec := xml.NewDecoder(src)
	dec.Strict = true
	return &tokenizer{dec: dec, src: src}
}

func (t *tokenizer) next() (event, error) {
	for {
		tok, err := t.dec.Token()
		if err == io.EOF {
			return event{kind: evEOF}, nil
		}
		if err != nil {
			return event{}, t.classify(err)
		}

		switch tok := tok.(type) {
		case xml.StartElement:
			return event{kind: evStart, name: tok.Name.Local, attrs: tok.Attr}, nil
		case xml.EndElement:
			return event{kind: evEnd, name: tok.Name.Local}, nil
		case xml.CharData:
			return event{kind: evText, text: string(tok)}, nil
		}
	}
}

// classify separates failures of the underlying reader from problems with
// the document itself.
func (t *tokenizer) classify(err error) error {
	if t.src.err != nil {
		return wrapErr(ErrParseIO, t.src.err)
	}
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("%w: line %d: %s", ErrMalformedDocument, syntaxErr.Line, syntaxErr.Msg)
	}
	return wrapErr(ErrMalformedDocument, err)
}

// sourceReader remembers the first non-EOF error of the wrapped reader.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}
