package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httputil"
	"strings"
)

const PREFIX = "---CACHED-ENTRY---\n"

// Serialize encodes the request key and the full response (status line, headers and body).
// The response body is replaced by an in-memory copy and stays readable.
func Serialize(key string, resp *http.Response) ([]byte, error) {
	if strings.ContainsAny(key, "\r\n") {
		return nil, fmt.Errorf("invalid cache key %q", key)
	}

	b, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(PREFIX)+len(key)+1+len(b))
	out = append(out, PREFIX...)
	out = append(out, key...)
	out = append(out, '\n')
	return append(out, b...), nil
}

// Deserialize decodes data produced by Serialize
func Deserialize(b []byte) (string, *http.Response, error) {
	key, rest, err := splitKey(b)
	if err != nil {
		return "", nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(rest)), nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	return key, resp, nil
}

// DeserializeKey reads only the request key of serialized data
func DeserializeKey(b []byte) (string, error) {
	key, _, err := splitKey(b)
	return key, err
}

func splitKey(b []byte) (string, []byte, error) {
	if !bytes.HasPrefix(b, []byte(PREFIX)) {
		got := b
		if len(got) > len(PREFIX) {
			got = got[:len(PREFIX)]
		}
		return "", nil, fmt.Errorf("invalid prefix: expected '%s', got '%s'", PREFIX, got)
	}
	b = b[len(PREFIX):]

	end := bytes.IndexByte(b, '\n')
	if end <= 0 {
		return "", nil, fmt.Errorf("missing cache key")
	}
	return string(b[:end]), b[end+1:], nil
}
