package keypool

import "strings"

const maskedLen = 10

// MaskedSecret renders k.Secret for display without revealing the
// full credential: "sk-...XXXX" for OpenAI-shaped secrets, "abc...wxyz"
// for everything else, always exactly 10 characters.
func (k UpstreamKey) MaskedSecret() string {
	return MaskSecret(k.Secret)
}

// MaskSecret is the standalone form of UpstreamKey.MaskedSecret, for a
// secret that is not wrapped in an UpstreamKey.
func MaskSecret(secret string) string {
	const placeholder = "..."

	if secret == "" {
		return pad("N/A")
	}

	if strings.HasPrefix(secret, "sk-") {
		prefix := "sk-"
		if len(secret) >= len(prefix)+4 {
			return prefix + placeholder + secret[len(secret)-4:]
		}
		rest := secret[len(prefix):]
		return pad(prefix + placeholder + rest)
	}

	n := len(secret)
	switch {
	case n >= 7:
		return secret[:3] + placeholder + secret[n-4:]
	case n == 0:
		return pad("N/A")
	case n == 1:
		return pad(string(secret[0]) + placeholder)
	default:
		return pad(string(secret[0]) + placeholder + string(secret[n-1]))
	}
}

func pad(s string) string {
	if len(s) >= maskedLen {
		return s
	}
	return s + strings.Repeat(" ", maskedLen-len(s))
}
