package service

import (
	"regexp"
	"strings"

	"github.com/convoreach/backend/internal/model"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_]+)\s*\}\}`)

// Personalize substitutes per-recipient variables into a message template.
// Tokens are matched case-insensitively and both the English and Portuguese
// spellings are accepted. Unmatched tokens are left verbatim.
func Personalize(template string, c *model.Customer) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := strings.ToLower(tokenPattern.FindStringSubmatch(token)[1])
		switch name {
		case "name", "nome":
			return c.Name
		case "phone", "telefone":
			return c.Phone
		}
		return token
	})
}
