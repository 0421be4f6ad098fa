package assistant

import (
	"regexp"
	"strings"
)

// unmaskedRoles may see personal data in full. Everyone else gets the
// masked rendition required by LGPD.
var unmaskedRoles = map[string]bool{
	"admin":  true,
	"doctor": true,
}

// Unmasked reports whether the role is cleared for full personal data.
func Unmasked(role string) bool {
	return unmaskedRoles[role]
}

// MaskPhone keeps the first and last two digits of a phone number.
// Values too short to mask meaningfully pass through unchanged.
func MaskPhone(phone string) string {
	if len(phone) < 8 {
		return phone
	}
	return phone[:2] + "***" + phone[len(phone)-2:]
}

// MaskEmail keeps the first two characters of the local part and the full
// domain. Strings without an @ pass through unchanged.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***@" + domain
}

// MaskCPF keeps only the check digits of a CPF.
func MaskCPF(cpf string) string {
	digits := strings.NewReplacer(".", "", "-", "").Replace(cpf)
	if len(digits) != 11 {
		return cpf
	}
	return "***.***.***-" + digits[9:]
}

// MaskPhoneForRole, MaskEmailForRole and MaskCPFForRole apply the role
// gate before masking.
func MaskPhoneForRole(phone, role string) string {
	if Unmasked(role) {
		return phone
	}
	return MaskPhone(phone)
}

func MaskEmailForRole(email, role string) string {
	if Unmasked(role) {
		return email
	}
	return MaskEmail(email)
}

func MaskCPFForRole(cpf, role string) string {
	if Unmasked(role) {
		return cpf
	}
	return MaskCPF(cpf)
}

var (
	// scrubCPF matches CPFs in generated text.
	scrubCPF = regexp.MustCompile(`\d{3}\.?\d{3}\.?\d{3}-?\d{2}`)

	// scrubEmail matches email addresses in generated text.
	scrubEmail = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

	// scrubPhone matches bare 10-11 digit Brazilian phone runs.
	scrubPhone = regexp.MustCompile(`\b\d{10,11}\b`)
)

// ScrubPII masks personal identifiers that a model reply may have echoed
// from its context. The model cannot be trusted to respect masking
// instructions, so the reply is filtered before it reaches a role without
// clearance.
func ScrubPII(text, role string) string {
	if Unmasked(role) {
		return text
	}
	text = scrubCPF.ReplaceAllStringFunc(text, MaskCPF)
	text = scrubEmail.ReplaceAllStringFunc(text, MaskEmail)
	text = scrubPhone.ReplaceAllStringFunc(text, MaskPhone)
	return text
}
