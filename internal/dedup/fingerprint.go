package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"jobmate/ingestion-service/internal/model"
)

const fieldSep = "|"

// Fingerprint hashes the normalised title, company, location, country and
// created day into a lowercase hex SHA-256 digest. A blank title yields ""
// and the posting must be treated as unidentifiable. A zero created time
// contributes an empty date component.
func Fingerprint(title, company, location, countryCode string, created time.Time) string {
	t := NormalizeTitle(title)
	if t == "" {
		return ""
	}

	var day string
	if !created.IsZero() {
		day = created.Format(time.DateOnly)
	}

	composite := strings.Join([]string{
		t,
		NormalizeCompanyName(company),
		NormalizeLocationName(location),
		strings.ToUpper(strings.TrimSpace(countryCode)),
		day,
	}, fieldSep)

	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}

// Stamp fills NormalizedTitle and Fingerprint on p from its own fields.
func Stamp(p *model.Posting) {
	p.NormalizedTitle = NormalizeTitle(p.Title)
	p.Fingerprint = Fingerprint(p.Title, p.Company, p.Location, p.Country, p.Created)
}

// Filter drops postings without a dedup key, postings whose key is in
// known, and later duplicates of a key already seen in the same batch.
// Order of the surviving postings is preserved.
func Filter(postings []model.Posting, known []string) (fresh []model.Posting, dropped int) {
	seen := make(map[string]struct{}, len(known)+len(postings))
	for _, k := range known {
		seen[k] = struct{}{}
	}

	fresh = make([]model.Posting, 0, len(postings))
	for _, p := range postings {
		key := p.DedupKey()
		if key == "" {
			dropped++
			continue
		}
		if _, dup := seen[key]; dup {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, p)
	}
	return fresh, dropped
}

// Keys returns the dedup keys of postings, skipping empty ones.
func Keys(postings []model.Posting) []string {
	keys := make([]string, 0, len(postings))
	for _, p := range postings {
		if k := p.DedupKey(); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
