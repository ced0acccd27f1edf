package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so a client-supplied value containing ':' cannot address another bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// IdentifyIPKey is the bucket for identify requests from ip.
func IdentifyIPKey(ip string) string {
	return "ratelimit:identify:ip:" + SanitizeKeySegment(ip)
}
