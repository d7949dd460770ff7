package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cofrap/cofrap_auth/internal/autherr"
)

func TestUsername(t *testing.T) {
	cases := map[string]Reason{
		"":                       ReasonRequired,
		"a":                      ReasonTooShort,
		"ab":                     ReasonTooShort,
		"abc":                    "",
		"alice_01":               "",
		"new-bob":                "",
		"ALICE":                  "",
		"bad name":               ReasonBadCharset,
		"bob!":                   ReasonBadCharset,
		"élodie":                 ReasonBadCharset,
		"a.b.c":                  ReasonBadCharset,
		strings.Repeat("x", 64):  "",
		strings.Repeat("x", 65):  ReasonTooLong,
		"<script>":               ReasonBadCharset,
		"carol;DROP TABLE users": ReasonBadCharset,
	}
	for in, want := range cases {
		got := Username(in)
		assert.Equal(t, want, got.Reason, "input %q", in)
		assert.Equal(t, want == "", got.OK(), "input %q", in)
	}
}

func TestUsernameRejectsEveryByteOutsideCharset(t *testing.T) {
	for b := 0; b < 256; b++ {
		if usernameByte(byte(b)) {
			continue
		}
		in := "abc" + string([]byte{byte(b)})
		assert.False(t, Username(in).OK(), "byte %d accepted", b)
	}
}

func TestTOTP(t *testing.T) {
	assert.True(t, TOTP("123456", true).OK())
	assert.True(t, TOTP("000000", false).OK())
	assert.True(t, TOTP("", false).OK())
	assert.Equal(t, ReasonRequired, TOTP("", true).Reason)

	for _, in := range []string{"12345", "1234567", "12a456", " 123456", "12345６", "abcdef", "-12345"} {
		assert.Equal(t, ReasonBadFormat, TOTP(in, true).Reason, "input %q", in)
		assert.Equal(t, ReasonBadFormat, TOTP(in, false).Reason, "input %q", in)
	}
}

func TestPassword(t *testing.T) {
	assert.Equal(t, ReasonRequired, Password("").Reason)
	assert.True(t, Password("x").OK())
}

func TestResultErr(t *testing.T) {
	assert.NoError(t, Valid.Err("username"))

	err := Username("ab").Err("username")
	require.Error(t, err)
	classified := autherr.As(err)
	assert.Equal(t, autherr.KindValidationFailed, classified.Kind)
	assert.Equal(t, "username", classified.Field)
	assert.Equal(t, string(ReasonTooShort), classified.Detail)
}
