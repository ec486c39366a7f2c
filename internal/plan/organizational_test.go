package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailwarm/internal/model"
)

func TestIsOrganizational(t *testing.T) {
	tests := []struct {
		name string
		acct model.WarmupAccount
		want bool
	}{
		{"explicit flag", model.WarmupAccount{Email: "a@gmail.com", Organizational: true}, true},
		{"tenant id set", model.WarmupAccount{Email: "a@gmail.com", TenantID: "t-123"}, true},
		{"onmicrosoft domain", model.WarmupAccount{Email: "ops@contoso.onmicrosoft.com"}, true},
		{"outlook protection domain", model.WarmupAccount{Email: "x@corp.mail.protection.outlook.com"}, true},
		{"gappssmtp domain", model.WarmupAccount{Email: "relay@corp.gappssmtp.com"}, true},
		{"deep subdomain", model.WarmupAccount{Email: "bob@mail.corp.example.com"}, true},
		{"plain gmail", model.WarmupAccount{Email: "a@gmail.com"}, false},
		{"plain custom domain", model.WarmupAccount{Email: "a@example.com"}, false},
		{"co.uk style", model.WarmupAccount{Email: "a@example.co.uk"}, true},
		{"no at sign", model.WarmupAccount{Email: "not-an-address"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOrganizational(&tt.acct))
		})
	}
}
