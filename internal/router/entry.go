package router

import "encoding/binary"

// Cached responses keep their content type: a uvarint length, the content
// type, then the body.

func encodeEntry(resp *Response) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(resp.ContentType)+len(resp.Body))
	buf = binary.AppendUvarint(buf, uint64(len(resp.ContentType)))
	buf = append(buf, resp.ContentType...)
	return append(buf, resp.Body...)
}

func decodeEntry(raw []byte) (*Response, bool) {
	n, size := binary.Uvarint(raw)
	if size <= 0 || n > uint64(len(raw)-size) {
		return nil, false
	}
	rest := raw[size:]
	return &Response{
		ContentType: string(rest[:n]),
		Body:        rest[n:],
		Cached:      true,
	}, true
}
