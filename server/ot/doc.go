package ot

import "fmt"

// Doc is a text replica that op sequences apply to.
type Doc []byte

func NewDoc(text string) *Doc {
	doc := Doc(text)
	return &doc
}

func (doc Doc) String() string {
	return string(doc)
}

func (doc Doc) Len() int {
	return len(doc)
}

// Apply applies ops to the document. The document is left untouched if ops
// does not span it exactly.
func (doc *Doc) Apply(ops Ops) error {
	if err := Validate(ops); err != nil {
		return err
	}
	ret, del, ins := Count(ops)
	if ret+del != len(*doc) {
		return fmt.Errorf("%w: base length %d != document length %d", ErrLengthMismatch, ret+del, len(*doc))
	}
	src := *doc
	buf := make([]byte, 0, ret+ins)
	i := 0
	for _, op := range ops {
		switch op := op.(type) {
		case Retain:
			if i+int(op) > len(src) {
				return fmt.Errorf("%w: retain past end of document", ErrLengthMismatch)
			}
			buf = append(buf, src[i:i+int(op)]...)
			i += int(op)
		case Delete:
			i += int(op)
		case Insert:
			buf = append(buf, op...)
		}
	}
	*doc = buf
	return nil
}
