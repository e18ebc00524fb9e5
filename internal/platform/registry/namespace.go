package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Database names are derived from the tenant slug and must stay valid
// unquoted Postgres identifiers. The prefix keeps tenant databases
// recognizable on a shared server.
const (
	dbPrefix   = "tenant_"
	rolePrefix = "tenant_"
	roleSuffix = "_app"

	maxSlugLen = 40
)

// DeriveSlug turns a clinic name into a deterministic identifier: lowercase,
// runs of non-alphanumerics collapsed to single underscores. The result is
// stable for a given name, so collisions only occur between distinctly named
// tenants that normalize to the same slug.
func DeriveSlug(name string) (string, error) {
	var b strings.Builder
	lastUnderscore := true // trim leading separators
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return "", fmt.Errorf("tenant name %q yields empty identifier", name)
	}
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		slug = strings.TrimRight(slug, "_")
	}
	return slug, nil
}

// WithRandomSuffix appends a short random suffix, used to resolve namespace
// collisions during tenant creation.
func WithRandomSuffix(slug string) (string, error) {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate namespace suffix: %w", err)
	}
	return slug + "_" + hex.EncodeToString(buf[:]), nil
}

// DatabaseName returns the database name for a tenant slug.
func DatabaseName(slug string) string { return dbPrefix + slug }

// RoleName returns the database role that owns a tenant's database.
func RoleName(slug string) string { return rolePrefix + slug + roleSuffix }
