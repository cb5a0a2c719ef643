// Package env reads single process environment variables for the few knobs
// that sit outside the envconfig-managed KEYHAVEN_ sections, such as the
// logger's output format.
package env

import "os"

// Get returns the value of key, or fallback when the variable is unset or
// empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
