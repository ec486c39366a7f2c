package plan

import (
	"strings"

	"mailwarm/internal/model"
)

// Suffixes that mark a managed corporate mail platform.
var managedSuffixes = []string{
	".onmicrosoft.com",
	".mail.protection.outlook.com",
	".gappssmtp.com",
}

// IsOrganizational reports whether the account belongs to a managed
// corporate platform and must stay receive-only. Explicit metadata wins;
// otherwise the domain shape decides. A false positive only reduces send
// volume, so the heuristic errs toward organizational.
func IsOrganizational(acct *model.WarmupAccount) bool {
	if acct.Organizational || acct.TenantID != "" {
		return true
	}
	return hasOrganizationalDomain(acct.Email)
}

func hasOrganizationalDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])

	for _, suffix := range managedSuffixes {
		if strings.HasSuffix(domain, suffix) {
			return true
		}
	}

	// Multi-label subdomains (mail.corp.example.com) are corporate-style.
	return strings.Count(domain, ".") >= 2
}
