package cache

import "fmt"

// RateLimitKey namespaces a fixed-window counter by limited surface and client.
func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("dandi:ratelimit:%s:%s", scope, subject)
}
