package flow

import "github.com/tidwall/sjson"

// payload builds a JSON request body path by path. The first error sticks.
type payload struct {
	err error
	buf []byte
}

func newPayload() *payload {
	return &payload{buf: []byte(`{}`)}
}

func (p *payload) set(path string, value any) *payload {
	if p.err != nil {
		return p
	}
	p.buf, p.err = sjson.SetBytes(p.buf, path, value)
	return p
}

func (p *payload) setRaw(path string, raw []byte) *payload {
	if p.err != nil {
		return p
	}
	p.buf, p.err = sjson.SetRawBytes(p.buf, path, raw)
	return p
}

func (p *payload) bytes() ([]byte, error) {
	return p.buf, p.err
}
