package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short, log-friendly request id.
func newReqID() string {
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

// ParseFlags separates positional args from --key=value, --key value and
// boolean flags. Keys listed in boolKeys never consume the next token.
// Tokens that parse as numbers ("-5") stay positional.
func ParseFlags(args []string, boolKeys ...string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	isBool := func(k string) bool {
		for _, b := range boolKeys {
			if b == k {
				return true
			}
		}
		return false
	}
	takesValue := func(i int, key string) bool {
		return !isBool(key) && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-")
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") || a == "-" || a == "--" || isNumber(a) {
			pos = append(pos, a)
			continue
		}
		key := strings.TrimLeft(a, "-")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[key[:eq]] = key[eq+1:]
			continue
		}
		long := strings.HasPrefix(a, "--")
		if long || len(key) == 1 {
			if takesValue(i, key) {
				flags[key] = args[i+1]
				i++
				continue
			}
			bools[key] = true
			continue
		}
		// -abc => bool a,b,c
		for _, r := range key {
			bools[string(r)] = true
		}
	}
	return pos, flags, bools
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
