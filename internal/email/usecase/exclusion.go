package usecase

import (
	"strings"

	emaildomain "mailpilot-backend/internal/email/domain"
)

// Sender address fragments that mark automated traffic not worth analyzing.
var bulkSenderFragments = []string{
	"noreply",
	"no-reply",
	"donotreply",
	"do-not-reply",
	"mailer-daemon",
	"postmaster",
	"bounce",
	"notifications@",
	"newsletter@",
	"marketing@",
	"promo@",
}

// ShouldAnalyze decides whether a message is worth spending an AI call on.
// Bulk and automated mail is skipped: the analysis adds nothing and the
// provider quota is finite.
func ShouldAnalyze(record *emaildomain.EmailRecord) bool {
	if record.IsBulk {
		return false
	}
	sender := strings.ToLower(record.SenderAddress)
	for _, fragment := range bulkSenderFragments {
		if strings.Contains(sender, fragment) {
			return false
		}
	}
	return true
}
