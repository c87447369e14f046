package cache

import (
	"fmt"
	"strings"

	"jobmate/ingestion-service/internal/model"
)

// GlobalScope is the scope segment of keys that span every country.
const GlobalScope = "ALL"

const (
	filterOptionsPrefix = "filter_options"
	listingsPrefix      = "listings"
	bucketLayout        = "2006010215"
)

// Scope maps a country code to its key scope; "" is the global scope.
func Scope(country string) string {
	if strings.TrimSpace(country) == "" {
		return GlobalScope
	}
	return strings.ToUpper(strings.TrimSpace(country))
}

// FilterOptionsKey is the cache key for the filter aggregates of one
// country (or "" for all) and timeframe.
func FilterOptionsKey(country string, tf model.Timeframe) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", filterOptionsPrefix, Scope(country), tf.Weeks,
		tf.From.UTC().Format(bucketLayout), tf.To.UTC().Format(bucketLayout))
}

// ListingsKey is the cache key for one listings page.
func ListingsKey(country string, tf model.Timeframe, page, size int) string {
	return fmt.Sprintf("%s:%s:%d:%d:%d:%s:%s", listingsPrefix, Scope(country), tf.Weeks, page, size,
		tf.From.UTC().Format(bucketLayout), tf.To.UTC().Format(bucketLayout))
}

// ScopeOf extracts the scope segment from a key built by this package.
func ScopeOf(key string) (string, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// IsQueryKey reports whether key was built by FilterOptionsKey or
// ListingsKey.
func IsQueryKey(key string) bool {
	if _, ok := ScopeOf(key); !ok {
		return false
	}
	return strings.HasPrefix(key, filterOptionsPrefix+":") || strings.HasPrefix(key, listingsPrefix+":")
}

// StalenessKey names the refresh timestamp of a country, or of the global
// scope for "".
func StalenessKey(country string) string {
	if strings.TrimSpace(country) == "" {
		return "country_GLOBAL"
	}
	return "country_" + strings.ToUpper(strings.TrimSpace(country))
}
