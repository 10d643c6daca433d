package dbserver

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/udisondev/otpgo/internal/protocol"
)

const (
	// A player can hold this many unredeemed codes at once.
	maxSecretCodes = 11

	secretCodeTTL        = 48 * time.Hour
	secretCodeTimeFormat = "2006-01-02 15:04:05"
	secretCodeFile       = "friend_access.dat"
	secretCodeChars      = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// secretCode is one issued code and its expiry timestamp. It marshals
// as a two-element array to keep the on-disk file shape stable.
type secretCode struct {
	Secret  string
	Expires string
}

func (c secretCode) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Secret, c.Expires})
}

func (c *secretCode) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	c.Secret, c.Expires = pair[0], pair[1]
	return nil
}

func secretCodePath(dir string) string {
	return filepath.Join(dir, secretCodeFile)
}

// loadSecretCodes restores the seed and outstanding codes; a missing
// file is a fresh store.
func (s *Server) loadSecretCodes() error {
	data, err := os.ReadFile(s.secretPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read secret codes: %w", err)
	}

	var doc []json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode secret codes: %w", err)
	}
	if len(doc) != 2 {
		return fmt.Errorf("decode secret codes: want 2 elements, got %d", len(doc))
	}
	var seed int64
	if err := json.Unmarshal(doc[0], &seed); err != nil {
		return fmt.Errorf("decode secret code seed: %w", err)
	}
	byName := make(map[string][]secretCode)
	if err := json.Unmarshal(doc[1], &byName); err != nil {
		return fmt.Errorf("decode secret code table: %w", err)
	}

	s.secretMu.Lock()
	defer s.secretMu.Unlock()
	s.rngSeed = seed
	s.secrets = make(map[uint32][]secretCode, len(byName))
	for key, codes := range byName {
		avId, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			continue
		}
		s.secrets[uint32(avId)] = codes
	}
	return nil
}

func (s *Server) saveSecretCodesLocked() error {
	byName := make(map[string][]secretCode, len(s.secrets))
	for avId, codes := range s.secrets {
		byName[strconv.FormatUint(uint64(avId), 10)] = codes
	}
	doc := []any{s.rngSeed, byName}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode secret codes: %w", err)
	}
	if err := os.WriteFile(s.secretPath, data, 0o644); err != nil {
		return fmt.Errorf("write secret codes: %w", err)
	}
	return nil
}

// generateSecret produces a "xxx xxx" code from the current seed.
func generateSecret(rng *rand.Rand) string {
	buf := make([]byte, 7)
	for i := range buf {
		buf[i] = secretCodeChars[rng.Intn(len(secretCodeChars))]
	}
	buf[3] = ' '
	return string(buf)
}

// requestSecret issues a new secret friend code for the requester, up
// to the live-code cap. The seed is perturbed by the requester id after
// each issue so codes do not repeat.
func (s *Server) requestSecret(sender uint64, payload []byte) {
	r := protocol.NewReader(payload)
	requesterId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed request-secret", "error", err)
		return
	}

	s.secretMu.Lock()
	if s.rngSeed == 0 {
		s.rngSeed = rand.Int63()
	}

	responseCode := uint8(1)
	secret := ""
	if len(s.secrets[requesterId]) >= maxSecretCodes {
		responseCode = 0
	} else {
		secret = generateSecret(rand.New(rand.NewSource(s.rngSeed)))
		s.secrets[requesterId] = append(s.secrets[requesterId], secretCode{
			Secret:  secret,
			Expires: time.Now().Add(secretCodeTTL).Format(secretCodeTimeFormat),
		})
		s.rngSeed += int64(requesterId)
		if err := s.saveSecretCodesLocked(); err != nil {
			s.log.Error("could not persist secret codes", "error", err)
		}
	}
	s.secretMu.Unlock()

	w := protocol.GetWriter()
	defer w.Put()
	w.WriteUint8(responseCode)
	w.WriteString(secret)
	w.WriteUint32(requesterId)
	s.reply(sender, protocol.DBServerRequestSecretResp, w.Bytes())
}

// submitSecret redeems a code: 1 on success, 3 when a player submits
// their own code, 0 for unknown or expired codes. A matched code is
// consumed whatever the outcome.
func (s *Server) submitSecret(sender uint64, payload []byte) {
	r := protocol.NewReader(payload)
	requesterId, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("malformed submit-secret", "error", err)
		return
	}
	secret, err := r.ReadString()
	if err != nil {
		s.log.Warn("malformed submit-secret", "error", err)
		return
	}

	responseCode := uint8(0)
	matched := ""
	ownerId := uint32(0)

	s.secretMu.Lock()
	owners := make([]uint32, 0, len(s.secrets))
	for avId := range s.secrets {
		owners = append(owners, avId)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

search:
	for _, avId := range owners {
		for i, code := range s.secrets[avId] {
			if code.Secret != secret {
				continue
			}
			expires, err := time.ParseInLocation(secretCodeTimeFormat, code.Expires, time.Local)
			switch {
			case err != nil || !time.Now().Before(expires):
				responseCode = 0
			case requesterId == avId:
				responseCode = 3
			default:
				responseCode = 1
			}
			matched = code.Secret
			ownerId = avId
			s.secrets[avId] = append(s.secrets[avId][:i], s.secrets[avId][i+1:]...)
			if len(s.secrets[avId]) == 0 {
				delete(s.secrets, avId)
			}
			if err := s.saveSecretCodesLocked(); err != nil {
				s.log.Error("could not persist secret codes", "error", err)
			}
			break search
		}
	}
	s.secretMu.Unlock()

	w := protocol.GetWriter()
	defer w.Put()
	w.WriteUint8(responseCode)
	w.WriteString(matched)
	w.WriteUint32(requesterId)
	w.WriteUint32(ownerId)
	s.reply(sender, protocol.DBServerSubmitSecretResp, w.Bytes())
}
