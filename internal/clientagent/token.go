package clientagent

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/otpgo/internal/protocol"
)

// TokenInfo is the parsed play-token. ReturnCode 0 means the token was
// accepted; otherwise RespString explains the rejection and Disconnect
// carries the CLIENT_GO_GET_LOST reason to send.
type TokenInfo struct {
	ReturnCode int8
	RespString string
	Disconnect uint16

	AccountName           string
	AccountNameApproved   bool
	AccountNumber         uint32
	UserName              string
	SWID                  string
	FamilyNumber          int32
	FamilyAdmin           int32
	OpenChatEnabled       bool
	CreateFriendsWithChat int32 // 0 = NO, 1 = CODE, 2 = YES
	ChatCodeCreationRule  int32 // 0 = NO, 1 = PARENT, 2 = YES
	WhitelistChat         bool
	Paid                  bool
}

func newTokenInfo() TokenInfo {
	return TokenInfo{
		FamilyNumber:  -1,
		FamilyAdmin:   1,
		WhitelistChat: true,
	}
}

func tokenReject(returnCode int8, respString string, disconnect uint16) TokenInfo {
	info := newTokenInfo()
	info.ReturnCode = returnCode
	info.RespString = respString
	info.Disconnect = disconnect
	return info
}

const oldTokenTimeLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// tokenBool accepts only explicit affirmatives. The legacy grammar's
// truthiness ("any non-empty string") accepted the literal "NO".
func tokenBool(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		return true
	}
	return false
}

// ParseToken dispatches on the token type tag from the login request.
// Only the PLAY_TOKEN and DISL types are supported; both carry either
// the modern &-separated DISL grammar or the legacy quoted grammar,
// optionally DES3-encrypted.
func ParseToken(token []byte, tokenType int32, password string, now time.Time) TokenInfo {
	switch tokenType {
	case protocol.TokenLogin2PlayToken, protocol.TokenLogin3DISL:
	default:
		return tokenReject(5, "Unsupported playtoken type.", protocol.DisconnectTokenType)
	}

	if decoded, err := base64.StdEncoding.DecodeString(string(token)); err == nil {
		plain, err := des3Decrypt(decoded, []byte(password))
		if err != nil {
			return tokenReject(3, "Ill-formated playtoken.", protocol.DisconnectTokenDecrypt)
		}
		token = plain
	}

	if bytes.Contains(token, []byte("TOONTOWN_GAME_KEY")) {
		return parseDISLToken(string(token), now)
	}
	return parseOldToken(string(token), now)
}

// des3Decrypt opens an OpenSSL-style envelope: the literal "Salted__",
// an 8-byte salt, then TripleDES-CBC ciphertext with PKCS#7 padding.
// Key and IV come from one SHA-256 over password||salt.
func des3Decrypt(data, password []byte) ([]byte, error) {
	if len(data) < 16 || !bytes.HasPrefix(data, []byte("Salted__")) {
		return nil, fmt.Errorf("missing salt header")
	}
	salt := data[8:16]
	data = data[16:]
	if len(data) == 0 || len(data)%des.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a block multiple", len(data))
	}

	sum := sha256.Sum256(append(append([]byte{}, password...), salt...))
	block, err := des.NewTripleDESCipher(sum[:24])
	if err != nil {
		return nil, fmt.Errorf("building cipher: %w", err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, sum[24:32]).CryptBlocks(plain, data)

	pad := int(plain[len(plain)-1])
	if pad < 1 || pad > des.BlockSize || pad > len(plain) {
		return nil, fmt.Errorf("bad padding")
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("bad padding")
		}
	}
	return plain[:len(plain)-pad], nil
}

// parseDISLToken handles the modern grammar: &-separated name=value
// pairs keyed by the TOONTOWN_GAME_KEY marker.
func parseDISLToken(token string, now time.Time) TokenInfo {
	info := newTokenInfo()

	vars := make(map[string]string)
	for _, line := range strings.Split(token, "&") {
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vars[name] = value
	}

	info.AccountName = vars["ACCOUNT_NAME"]
	if info.AccountName == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}

	if s := vars["ACCOUNT_NUMBER"]; s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
		}
		info.AccountNumber = uint32(n)
	}
	info.UserName = vars["GAME_USERNAME"]
	info.SWID = vars["SWID"]

	valid := vars["valid"]
	if valid == "" || !tokenBool(valid) {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}

	if s := vars["expires"]; s != "" {
		epoch, err := strconv.ParseInt(s, 10, 64)
		if err != nil || epoch < 0 {
			return tokenReject(1, "Invalid playtoken.", protocol.DisconnectTokenParse)
		}
		if !time.Unix(epoch, 0).After(now) {
			return tokenReject(1, "Invalid playtoken.", protocol.DisconnectTokenExpired)
		}
	}

	approval := vars["ACCOUNT_NAME_APPROVAL"]
	if approval == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	info.AccountNameApproved = approval == "YES"

	family := vars["FAMILY_NUMBER"]
	if family == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	n, err := strconv.ParseInt(family, 10, 32)
	if err != nil {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	info.FamilyNumber = int32(n)

	admin := vars["familyAdmin"]
	if admin == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	n, err = strconv.ParseInt(admin, 10, 32)
	if err != nil {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	info.FamilyAdmin = int32(n)

	openChat := vars["OPEN_CHAT_ENABLED"]
	if openChat == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	info.OpenChatEnabled = openChat == "YES"

	friendsWithChat := vars["CREATE_FRIENDS_WITH_CHAT"]
	if friendsWithChat == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	info.CreateFriendsWithChat = chatLevel(friendsWithChat, "CODE")

	creationRule := vars["CHAT_CODE_CREATION_RULE"]
	if creationRule == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	info.ChatCodeCreationRule = chatLevel(creationRule, "PARENT")

	if s := vars["WL_CHAT_ENABLED"]; s != "" {
		info.WhitelistChat = s == "YES"
	}
	if s := vars["TOONTOWN_ACCESS"]; s != "" {
		info.Paid = s == "FULL"
	}

	if vars["TOONTOWN_GAME_KEY"] == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}

	return info
}

func chatLevel(s, middle string) int32 {
	switch s {
	case middle:
		return 1
	case "YES":
		return 2
	}
	return 0
}

// parseOldToken handles the legacy grammar: a "PlayToken " header
// followed by name="value" pairs separated by quote-space.
func parseOldToken(token string, now time.Time) TokenInfo {
	info := newTokenInfo()
	// Old tokens predate the chat permission levels; both gates sit at
	// their middle setting.
	info.CreateFriendsWithChat = 1
	info.ChatCodeCreationRule = 1

	idx := strings.Index(token, "PlayToken")
	if idx < 0 {
		return tokenReject(3, "Ill-formated playtoken.", protocol.DisconnectTokenParse)
	}
	token = token[idx+len("PlayToken")+1:]

	vars := make(map[string]string)
	for _, line := range strings.Split(token, `" `) {
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vars[name] = strings.TrimSuffix(strings.TrimPrefix(value, `"`), `"`)
	}

	name := vars["name"]
	if name == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	info.AccountName = name
	info.AccountNameApproved = true
	info.UserName = name

	expires := vars["expires"]
	if expires == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	expireTime, err := time.ParseInLocation(oldTokenTimeLayout, expires, time.UTC)
	if err != nil {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	if !expireTime.After(now) {
		return tokenReject(1, "Invalid playtoken.", protocol.DisconnectTokenExpired)
	}

	paid := vars["paid"]
	if paid == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	info.Paid = tokenBool(paid)

	chat := vars["chat"]
	if chat == "" {
		return tokenReject(2, "Invalid playtoken.", protocol.DisconnectTokenParse)
	}
	// The old grammar's chat flag never fed the open-chat response
	// field; only the expiry and paid bits survive.

	return info
}
