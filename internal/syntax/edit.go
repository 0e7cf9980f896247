package syntax

import (
	"bytes"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// ErrChangeOutOfRange is returned when a Change does not fit the text it is
// applied to.
var ErrChangeOutOfRange = errors.New("syntax: change out of range")

// Change is one host-reported text mutation: Removed bytes starting at
// Offset are replaced by Text. Offsets are byte offsets into the text as it
// was immediately before this change; a sequence of changes is applied in
// order, each against the result of the previous one.
type Change struct {
	Offset  int    `json:"offset" yaml:"offset"`
	Removed int    `json:"removed" yaml:"removed"`
	Text    string `json:"text" yaml:"text"`
}

// Inserted returns the number of bytes the change inserts.
func (c Change) Inserted() int { return len(c.Text) }

// Edit is the byte and point delta tree-sitter needs to shift an existing
// tree over a change.
type Edit struct {
	StartByte   uint32
	OldEndByte  uint32
	NewEndByte  uint32
	StartPoint  sitter.Point
	OldEndPoint sitter.Point
	NewEndPoint sitter.Point
}

func (e Edit) input() sitter.EditInput {
	return sitter.EditInput{
		StartIndex:  e.StartByte,
		OldEndIndex: e.OldEndByte,
		NewEndIndex: e.NewEndByte,
		StartPoint:  e.StartPoint,
		OldEndPoint: e.OldEndPoint,
		NewEndPoint: e.NewEndPoint,
	}
}

// EditFor computes the Edit describing c against src, the text before c is
// applied.
func EditFor(src []byte, c Change) (Edit, error) {
	if err := c.validate(src); err != nil {
		return Edit{}, err
	}
	start := pointAt(src, c.Offset)
	return Edit{
		StartByte:   uint32(c.Offset),
		OldEndByte:  uint32(c.Offset + c.Removed),
		NewEndByte:  uint32(c.Offset + len(c.Text)),
		StartPoint:  start,
		OldEndPoint: pointAt(src, c.Offset+c.Removed),
		NewEndPoint: advance(start, c.Text),
	}, nil
}

// Apply replays changes on src in order and returns the resulting text. src
// is not modified.
func Apply(src []byte, changes []Change) ([]byte, error) {
	out := src
	for i, c := range changes {
		if err := c.validate(out); err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		out = splice(out, c)
	}
	return out, nil
}

// Diff returns the single Change turning old into new by trimming their
// common prefix and suffix. ok is false when the texts are equal.
func Diff(old, new []byte) (c Change, ok bool) {
	if bytes.Equal(old, new) {
		return Change{}, false
	}
	prefix := 0
	for prefix < len(old) && prefix < len(new) && old[prefix] == new[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(old)-prefix && suffix < len(new)-prefix &&
		old[len(old)-1-suffix] == new[len(new)-1-suffix] {
		suffix++
	}
	return Change{
		Offset:  prefix,
		Removed: len(old) - prefix - suffix,
		Text:    string(new[prefix : len(new)-suffix]),
	}, true
}

func (c Change) validate(src []byte) error {
	if c.Offset < 0 || c.Removed < 0 || c.Offset+c.Removed > len(src) {
		return fmt.Errorf("%w: offset %d removed %d len %d", ErrChangeOutOfRange, c.Offset, c.Removed, len(src))
	}
	return nil
}

func splice(src []byte, c Change) []byte {
	out := make([]byte, 0, len(src)-c.Removed+len(c.Text))
	out = append(out, src[:c.Offset]...)
	out = append(out, c.Text...)
	out = append(out, src[c.Offset+c.Removed:]...)
	return out
}

// pointAt returns the row and byte column of offset within src.
func pointAt(src []byte, offset int) sitter.Point {
	head := src[:offset]
	row := bytes.Count(head, []byte{'\n'})
	col := offset - (bytes.LastIndexByte(head, '\n') + 1)
	return sitter.Point{Row: uint32(row), Column: uint32(col)}
}

// advance returns the point reached after writing text at p.
func advance(p sitter.Point, text string) sitter.Point {
	lines := bytes.Count([]byte(text), []byte{'\n'})
	if lines == 0 {
		return sitter.Point{Row: p.Row, Column: p.Column + uint32(len(text))}
	}
	last := len(text) - (bytes.LastIndexByte([]byte(text), '\n') + 1)
	return sitter.Point{Row: p.Row + uint32(lines), Column: uint32(last)}
}
