package raw

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfshrink/scanner"
)

// ObjectReader builds objects from a scanner's token stream. It keeps a small
// pushback buffer so callers can peek.
type ObjectReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func NewObjectReader(s scanner.Scanner) *ObjectReader {
	return &ObjectReader{s: s}
}

func (r *ObjectReader) Next() (scanner.Token, error) {
	if n := len(r.buf); n > 0 {
		tok := r.buf[n-1]
		r.buf = r.buf[:n-1]
		return tok, nil
	}
	return r.s.Next()
}

func (r *ObjectReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// SeekTo repositions the underlying scanner and drops any pushed-back tokens.
func (r *ObjectReader) SeekTo(offset int64) error {
	r.buf = r.buf[:0]
	return r.s.SeekTo(offset)
}

// ReadObject parses one direct object. Streams are only recognised by
// ReadIndirect since they cannot appear as direct objects.
func (r *ObjectReader) ReadObject() (Object, error) {
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	return r.objectFrom(tok)
}

func (r *ObjectReader) objectFrom(tok scanner.Token) (Object, error) {
	switch tok.Type {
	case scanner.TokenDict:
		return r.readDict()
	case scanner.TokenArray:
		return r.readArray()
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenString:
		return StringObj{Bytes: append([]byte(nil), tok.Bytes...), Hex: tok.Hex}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberInt(tok.Int), nil
		}
		return NumberFloat(tok.Float), nil
	case scanner.TokenBoolean:
		return Bool(tok.Bool), nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenRef:
		return Ref(int(tok.Int), tok.Gen), nil
	default:
		return nil, fmt.Errorf("unexpected %s token %q at offset %d", tok.Type, tok.Str, tok.Pos)
	}
}

func (r *ObjectReader) readArray() (Object, error) {
	arr := NewArray()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, eofIsUnexpected(err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		item, err := r.objectFrom(tok)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *ObjectReader) readDict() (Object, error) {
	dict := Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, eofIsUnexpected(err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("dictionary key must be a name, got %s at offset %d", tok.Type, tok.Pos)
		}
		val, err := r.ReadObject()
		if err != nil {
			return nil, eofIsUnexpected(err)
		}
		dict.SetKey(tok.Str, val)
	}
}

// LengthFunc resolves the byte length of a stream from its dictionary.
type LengthFunc func(dict *DictObj) (int64, bool)

// ReadIndirect parses "N G obj ... endobj" starting at the current position.
// When the object is a dictionary followed by stream data, length supplies the
// payload size; without it the scanner searches for the endstream marker.
func (r *ObjectReader) ReadIndirect(length LengthFunc) (ObjectRef, Object, error) {
	numTok, err := r.Next()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	genTok, err := r.Next()
	if err != nil {
		return ObjectRef{}, nil, eofIsUnexpected(err)
	}
	objTok, err := r.Next()
	if err != nil {
		return ObjectRef{}, nil, eofIsUnexpected(err)
	}
	if numTok.Type != scanner.TokenNumber || !numTok.IsInt ||
		genTok.Type != scanner.TokenNumber || !genTok.IsInt ||
		objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return ObjectRef{}, nil, fmt.Errorf("expected object header at offset %d", numTok.Pos)
	}
	ref := ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}

	obj, err := r.ReadObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}

	if dict, ok := obj.(*DictObj); ok && len(r.buf) == 0 {
		n := int64(-1)
		if length != nil {
			if l, ok := length(dict); ok && l >= 0 {
				n = l
			}
		}
		r.s.SetNextStreamLength(n)
	}
	tok, err := r.Next()
	r.s.SetNextStreamLength(-1)
	if errors.Is(err, io.EOF) {
		// missing endobj at end of file
		return ref, obj, nil
	}
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	if tok.Type == scanner.TokenStream {
		dict, ok := obj.(*DictObj)
		if !ok {
			return ref, nil, fmt.Errorf("object %s: stream without dictionary", ref)
		}
		obj = &StreamObj{Dict: dict, Data: tok.Bytes}
		if tok, err = r.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return ref, obj, nil
			}
			return ref, nil, fmt.Errorf("object %s: %w", ref, err)
		}
	}
	if tok.Type != scanner.TokenKeyword || tok.Str != "endobj" {
		// Tolerate a missing endobj; the next header stays readable.
		r.Unread(tok)
	}
	return ref, obj, nil
}

func eofIsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
