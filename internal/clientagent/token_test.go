package clientagent

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpgo/internal/protocol"
)

const testTokenPassword = "kvm5SAE7sAq9csdPA8UPZRe7"

var tokenNow = time.Date(2010, 6, 1, 12, 0, 0, 0, time.UTC)

// encryptToken builds the OpenSSL-style envelope ParseToken expects:
// "Salted__" + salt + TripleDES-CBC with PKCS#7 padding, key and IV
// from one SHA-256 over password||salt.
func encryptToken(t *testing.T, plain, password string) string {
	t.Helper()

	salt := []byte("8byteslt")
	sum := sha256.Sum256(append([]byte(password), salt...))
	block, err := des.NewTripleDESCipher(sum[:24])
	require.NoError(t, err)

	pad := des.BlockSize - len(plain)%des.BlockSize
	padded := []byte(plain)
	for i := 0; i < pad; i++ {
		padded = append(padded, byte(pad))
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, sum[24:32]).CryptBlocks(out, padded)

	envelope := append([]byte("Salted__"), salt...)
	envelope = append(envelope, out...)
	return base64.StdEncoding.EncodeToString(envelope)
}

func dislToken(overrides map[string]string) string {
	vars := map[string]string{
		"ACCOUNT_NAME":             "flippy",
		"ACCOUNT_NUMBER":           "700",
		"GAME_USERNAME":            "flippy",
		"ACCOUNT_NAME_APPROVAL":    "YES",
		"FAMILY_NUMBER":            "3",
		"familyAdmin":              "1",
		"OPEN_CHAT_ENABLED":        "YES",
		"CREATE_FRIENDS_WITH_CHAT": "YES",
		"CHAT_CODE_CREATION_RULE":  "PARENT",
		"valid":                    "true",
		"TOONTOWN_GAME_KEY":        "E9D5839A23",
	}
	for k, v := range overrides {
		if v == "" {
			delete(vars, k)
			continue
		}
		vars[k] = v
	}
	token := ""
	for k, v := range vars {
		if token != "" {
			token += "&"
		}
		token += k + "=" + v
	}
	return token
}

func TestParseDISLToken(t *testing.T) {
	info := ParseToken([]byte(dislToken(nil)), protocol.TokenLogin3DISL, testTokenPassword, tokenNow)

	assert.EqualValues(t, 0, info.ReturnCode)
	assert.EqualValues(t, 0, info.Disconnect)
	assert.Equal(t, "flippy", info.AccountName)
	assert.True(t, info.AccountNameApproved)
	assert.EqualValues(t, 700, info.AccountNumber)
	assert.Equal(t, "flippy", info.UserName)
	assert.EqualValues(t, 3, info.FamilyNumber)
	assert.EqualValues(t, 1, info.FamilyAdmin)
	assert.True(t, info.OpenChatEnabled)
	assert.EqualValues(t, 2, info.CreateFriendsWithChat)
	assert.EqualValues(t, 1, info.ChatCodeCreationRule)
	assert.True(t, info.WhitelistChat)
	assert.False(t, info.Paid)
}

func TestParseDISLTokenOptionalAccess(t *testing.T) {
	token := dislToken(map[string]string{
		"TOONTOWN_ACCESS": "FULL",
		"WL_CHAT_ENABLED": "NO",
	})
	info := ParseToken([]byte(token), protocol.TokenLogin3DISL, testTokenPassword, tokenNow)

	assert.EqualValues(t, 0, info.ReturnCode)
	assert.True(t, info.Paid)
	assert.False(t, info.WhitelistChat)
}

func TestParseDISLTokenRejections(t *testing.T) {
	tests := []struct {
		name       string
		overrides  map[string]string
		returnCode int8
		disconnect uint16
	}{
		{"missing account name", map[string]string{"ACCOUNT_NAME": ""}, 2, protocol.DisconnectTokenParse},
		{"missing valid flag", map[string]string{"valid": ""}, 2, protocol.DisconnectTokenParse},
		{"negative valid flag", map[string]string{"valid": "false"}, 2, protocol.DisconnectTokenParse},
		{"bad account number", map[string]string{"ACCOUNT_NUMBER": "seven"}, 2, protocol.DisconnectTokenParse},
		{"missing approval", map[string]string{"ACCOUNT_NAME_APPROVAL": ""}, 2, protocol.DisconnectTokenParse},
		{"missing family", map[string]string{"FAMILY_NUMBER": ""}, 2, protocol.DisconnectTokenParse},
		{"missing open chat", map[string]string{"OPEN_CHAT_ENABLED": ""}, 2, protocol.DisconnectTokenParse},
		{"bad expiry", map[string]string{"expires": "tomorrow"}, 1, protocol.DisconnectTokenParse},
		{"expired", map[string]string{"expires": "950000000"}, 1, protocol.DisconnectTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseToken([]byte(dislToken(tt.overrides)), protocol.TokenLogin3DISL, testTokenPassword, tokenNow)
			assert.Equal(t, tt.returnCode, info.ReturnCode)
			assert.Equal(t, tt.disconnect, info.Disconnect)
		})
	}
}

func TestParseDISLTokenFutureExpiry(t *testing.T) {
	token := dislToken(map[string]string{"expires": "2000000000"})
	info := ParseToken([]byte(token), protocol.TokenLogin3DISL, testTokenPassword, tokenNow)
	assert.EqualValues(t, 0, info.ReturnCode)
}

func TestParseTokenUnsupportedType(t *testing.T) {
	for _, tokenType := range []int32{protocol.TokenLogin2Green, protocol.TokenLogin2Blue, 9} {
		info := ParseToken([]byte(dislToken(nil)), tokenType, testTokenPassword, tokenNow)
		assert.EqualValues(t, 5, info.ReturnCode)
		assert.Equal(t, protocol.DisconnectTokenType, info.Disconnect)
	}
}

func TestParseTokenEncrypted(t *testing.T) {
	token := encryptToken(t, dislToken(nil), testTokenPassword)
	info := ParseToken([]byte(token), protocol.TokenLogin3DISL, testTokenPassword, tokenNow)

	assert.EqualValues(t, 0, info.ReturnCode)
	assert.Equal(t, "flippy", info.AccountName)
}

func TestParseTokenBadEnvelope(t *testing.T) {
	// Valid base64, but the payload is not a whole number of cipher
	// blocks after the salt header.
	token := base64.StdEncoding.EncodeToString([]byte("Salted__12345678abc"))
	info := ParseToken([]byte(token), protocol.TokenLogin3DISL, testTokenPassword, tokenNow)

	assert.EqualValues(t, 3, info.ReturnCode)
	assert.Equal(t, protocol.DisconnectTokenDecrypt, info.Disconnect)
}

func TestParseTokenWrongPassword(t *testing.T) {
	token := encryptToken(t, dislToken(nil), "not-the-password")
	info := ParseToken([]byte(token), protocol.TokenLogin3DISL, testTokenPassword, tokenNow)

	assert.NotEqualValues(t, 0, info.ReturnCode)
	assert.NotEqualValues(t, 0, info.Disconnect)
}

func TestParseOldToken(t *testing.T) {
	token := `PlayToken name="flippy" expires="Mon, 02 Jan 2034 15:04:05 GMT" paid="YES" chat="YES"`
	info := ParseToken([]byte(token), protocol.TokenLogin2PlayToken, testTokenPassword, tokenNow)

	assert.EqualValues(t, 0, info.ReturnCode)
	assert.EqualValues(t, 0, info.Disconnect)
	assert.Equal(t, "flippy", info.AccountName)
	assert.Equal(t, "flippy", info.UserName)
	assert.True(t, info.AccountNameApproved)
	assert.True(t, info.Paid)
	assert.EqualValues(t, 1, info.CreateFriendsWithChat)
	assert.EqualValues(t, 1, info.ChatCodeCreationRule)
	assert.EqualValues(t, -1, info.FamilyNumber)
}

func TestParseOldTokenUnpaid(t *testing.T) {
	token := `PlayToken name="flippy" expires="Mon, 02 Jan 2034 15:04:05 GMT" paid="NO" chat="YES"`
	info := ParseToken([]byte(token), protocol.TokenLogin2PlayToken, testTokenPassword, tokenNow)

	assert.EqualValues(t, 0, info.ReturnCode)
	assert.False(t, info.Paid)
}

func TestParseOldTokenExpired(t *testing.T) {
	token := `PlayToken name="flippy" expires="Mon, 02 Jan 2006 15:04:05 GMT" paid="YES" chat="YES"`
	info := ParseToken([]byte(token), protocol.TokenLogin2PlayToken, testTokenPassword, tokenNow)

	assert.EqualValues(t, 1, info.ReturnCode)
	assert.Equal(t, protocol.DisconnectTokenExpired, info.Disconnect)
}

func TestParseOldTokenMissingHeader(t *testing.T) {
	info := ParseToken([]byte(`name="flippy"`), protocol.TokenLogin2PlayToken, testTokenPassword, tokenNow)

	assert.EqualValues(t, 3, info.ReturnCode)
	assert.Equal(t, protocol.DisconnectTokenParse, info.Disconnect)
}

func TestParseOldTokenMissingFields(t *testing.T) {
	token := `PlayToken name="flippy" paid="YES" chat="YES"`
	info := ParseToken([]byte(token), protocol.TokenLogin2PlayToken, testTokenPassword, tokenNow)

	assert.EqualValues(t, 2, info.ReturnCode)
	assert.Equal(t, protocol.DisconnectTokenParse, info.Disconnect)
}
