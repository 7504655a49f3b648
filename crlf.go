package sarpush

import "golang.org/x/text/transform"

// crlfTransformer replaces bare LF and bare CR line endings with CRLF.
type crlfTransformer struct {
	prev byte
}

var _ transform.Transformer = &crlfTransformer{}

func (t *crlfTransformer) Reset() { t.prev = 0 }

func (t *crlfTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nDst < len(dst) && nSrc < len(src) {
		c := src[nSrc]
		switch c {
		case '\n':
			if t.prev != '\r' {
				if nDst+1 >= len(dst) {
					return nDst, nSrc, transform.ErrShortDst
				}
				dst[nDst] = '\r'
				nDst++
			}
		case '\r':
			// Need to look ahead to see if this is a CRLF.
			if nSrc+1 >= len(src) && !atEOF {
				return nDst, nSrc, transform.ErrShortSrc
			}
			if nSrc+1 >= len(src) || src[nSrc+1] != '\n' {
				if nDst+1 >= len(dst) {
					return nDst, nSrc, transform.ErrShortDst
				}
				dst[nDst] = '\r'
				nDst++
				c = '\n'
			}
		}
		dst[nDst] = c
		nDst++
		nSrc++
		t.prev = c
	}
	if nSrc < len(src) {
		err = transform.ErrShortDst
	}
	return nDst, nSrc, err
}

