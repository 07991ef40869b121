// Package jobkey implements the Job Key Hasher (C1): a deterministic,
// tenant-scoped fingerprint that collapses logically identical job
// submissions onto one job, per spec §4.1.
package jobkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// Compute derives job_key(org_id, type, payload) per spec §4.1:
//  1. canonicalize payload (sorted keys, unambiguous primitive encoding),
//  2. concatenate org_id || ":" || type || ":" || canonical_payload,
//  3. SHA-256, hex-encoded.
//
// Callers are responsible for pre-filtering payload down to the fields
// that are idempotency-relevant for the given job type; Compute itself is
// agnostic and hashes whatever it is given.
func Compute(orgID, jobType string, payload map[string]any) string {
	canon := canonicalize(payload)
	buf := make([]byte, 0, len(orgID)+len(jobType)+len(canon)+2)
	buf = append(buf, orgID...)
	buf = append(buf, ':')
	buf = append(buf, jobType...)
	buf = append(buf, ':')
	buf = append(buf, canon...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// canonicalize renders payload as a deterministic string: object keys
// sorted lexicographically, nested maps/slices recursed, one unambiguous
// encoding per primitive (strings quoted, float64 in strconv 'g' form,
// int/int64 in decimal, bools literal, nil as "null", any other type as
// its quoted %v text). It intentionally avoids encoding/json so that map key
// order can never leak through a library's own iteration order.
func canonicalize(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += strconv.Quote(k) + ":" + canonicalize(t[k])
		}
		return out + "}"
	case []any:
		out := "["
		for i, e := range t {
			if i > 0 {
				out += ","
			}
			out += canonicalize(e)
		}
		return out + "]"
	case string:
		return strconv.Quote(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return strconv.Quote(fmt.Sprintf("%v", t))
	}
}
