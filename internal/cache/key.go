package cache

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key builds the cache key of one logical request. Identical requests give
// identical keys regardless of parameter order.
func Key(service, method, endpoint string, params map[string]string, body []byte) string {
	if method == "" {
		method = "GET"
	}

	h := xxhash.New()
	if len(params) > 0 {
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)

		// Length prefixes keep "a=b&c" and "a=b", "c" apart.
		for _, name := range names {
			value := params[name]
			h.WriteString(strconv.Itoa(len(name)))
			h.WriteString(":")
			h.WriteString(name)
			h.WriteString(strconv.Itoa(len(value)))
			h.WriteString(":")
			h.WriteString(value)
		}
	}
	h.WriteString("\n")
	h.Write(body)

	var b strings.Builder
	b.Grow(len(service) + len(method) + len(endpoint) + 20)
	b.WriteString(service)
	b.WriteByte(':')
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(endpoint)
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(h.Sum64(), 16))
	return b.String()
}
