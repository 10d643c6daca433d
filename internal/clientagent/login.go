package clientagent

import (
	"context"
	"time"

	"github.com/udisondev/otpgo/internal/database"
	"github.com/udisondev/otpgo/internal/dc"
	"github.com/udisondev/otpgo/internal/protocol"
)

const accountTimeLayout = "2006-01-02 15:04:05"

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// resolveAccount maps the token's user name to an Account object,
// creating one on first login, then stamps CREATED/LAST_LOGIN and
// derives the account age in days.
func (c *Client) resolveAccount(ctx context.Context, userName string, now time.Time) (*database.Object, int32) {
	if userName == "" {
		return nil, 0
	}

	var account *database.Object
	doId, ok, err := c.agent.manager.GetAccount(ctx, userName)
	if err != nil {
		c.log.Error("account lookup failed", "userName", userName, "error", err)
		return nil, 0
	}
	if ok {
		account, err = c.agent.manager.LoadObject(ctx, doId)
		if err != nil {
			c.log.Error("account load failed", "doId", doId, "error", err)
			return nil, 0
		}
	} else {
		account, err = c.agent.manager.CreateObjectFromName(ctx, "Account", nil)
		if err != nil {
			c.log.Error("account create failed", "userName", userName, "error", err)
			return nil, 0
		}
		if err := c.agent.manager.SetAccount(ctx, userName, account.DoId); err != nil {
			c.log.Error("account mapping write failed", "userName", userName, "error", err)
			return nil, 0
		}
		c.log.Info("account created", "userName", userName, "doId", account.DoId)
	}

	stamp := now.Format(accountTimeLayout)
	if created, ok := fieldString(fieldOf(account, "CREATED")); !ok || created == "" {
		account.Fields["CREATED"] = dc.TupleV(dc.StringV(stamp))
	}
	account.Fields["LAST_LOGIN"] = dc.TupleV(dc.StringV(stamp))
	if err := c.agent.manager.SaveObject(ctx, account); err != nil {
		c.log.Error("account save failed", "doId", account.DoId, "error", err)
	}

	accountDays := int32(0)
	if created, ok := fieldString(fieldOf(account, "CREATED")); ok {
		if createdTime, err := time.ParseInLocation(accountTimeLayout, created, time.Local); err == nil {
			days := now.Sub(createdTime).Hours() / 24
			if days < 0 {
				days = -days
			}
			accountDays = int32(days)
		}
	}
	return account, accountDays
}

func (c *Client) finishLogin(account *database.Object, returnCode int8) {
	if returnCode == 0 && account != nil {
		c.mu.Lock()
		c.account = account
		c.authorized = true
		c.mu.Unlock()
	}
}

// handleLogin2 is the classic login: token, version, hash, type and
// two legacy validation strings.
func (c *Client) handleLogin2(r *protocol.Reader) {
	token, err := r.ReadString()
	if err != nil {
		c.disconnect(protocol.DisconnectMalformed, "")
		return
	}
	serverVersion, _ := r.ReadString()
	if _, err := r.ReadUint32(); err != nil { // hashVal
		c.disconnect(protocol.DisconnectMalformed, "")
		return
	}
	tokenType, err := r.ReadUint32()
	if err != nil {
		c.disconnect(protocol.DisconnectMalformed, "")
		return
	}
	r.ReadString() // validateDownload
	r.ReadString() // wantMagicWords

	if serverVersion != c.agent.cfg.ServerVersion {
		c.log.Warn("client version mismatch", "got", serverVersion, "want", c.agent.cfg.ServerVersion)
	}

	now := time.Now()
	info := ParseToken([]byte(token), int32(tokenType), c.agent.cfg.TokenPassword, now)
	if info.Disconnect != 0 {
		c.log.Warn("login rejected", "returnCode", info.ReturnCode, "reason", info.RespString)
		c.disconnect(info.Disconnect, "")
		return
	}

	ctx := context.Background()
	account, accountDays := c.resolveAccount(ctx, info.UserName, now)
	c.finishLogin(account, info.ReturnCode)

	w := protocol.NewWriter(128)
	w.WriteInt8(info.ReturnCode)
	w.WriteString(info.RespString)
	w.WriteString(info.UserName)
	w.WriteUint8(boolByte(info.OpenChatEnabled))
	writeEpoch(w, now)
	w.WriteUint8(boolByte(info.Paid))
	w.WriteInt32(1000 * 60 * 60) // minutesRemaining
	w.WriteString("")            // family string, unused
	w.WriteString(yesNo(info.WhitelistChat))
	w.WriteInt32(accountDays)
	w.WriteString(now.Format(accountTimeLayout))
	c.sendMessage(protocol.ClientLogin2Resp, w.Bytes())
}

// handleLoginToontown is the newer login used by the retail client.
func (c *Client) handleLoginToontown(r *protocol.Reader) {
	token, err := r.ReadString()
	if err != nil {
		c.disconnect(protocol.DisconnectMalformed, "")
		return
	}
	serverVersion, _ := r.ReadString()
	if _, err := r.ReadUint32(); err != nil { // hashVal
		c.disconnect(protocol.DisconnectMalformed, "")
		return
	}
	tokenType, err := r.ReadInt32()
	if err != nil {
		c.disconnect(protocol.DisconnectMalformed, "")
		return
	}
	r.ReadString() // wantMagicWords

	if serverVersion != c.agent.cfg.ServerVersion {
		c.log.Warn("client version mismatch", "got", serverVersion, "want", c.agent.cfg.ServerVersion)
	}

	now := time.Now()
	info := ParseToken([]byte(token), tokenType, c.agent.cfg.TokenPassword, now)
	if info.Disconnect != 0 {
		c.log.Warn("login rejected", "returnCode", info.ReturnCode, "reason", info.RespString)
		c.disconnect(info.Disconnect, "")
		return
	}

	ctx := context.Background()
	account, accountDays := c.resolveAccount(ctx, info.UserName, now)
	c.finishLogin(account, info.ReturnCode)

	accountDoId := info.AccountNumber
	if account != nil {
		accountDoId = account.DoId
	}

	paid := "VELVET_ROPE"
	if info.Paid {
		paid = "FULL"
	}
	friendsWithChat := [...]string{"NO", "CODE", "YES"}
	creationRule := [...]string{"NO", "PARENT", "YES"}

	w := protocol.NewWriter(192)
	w.WriteInt8(info.ReturnCode)
	w.WriteString(info.RespString)
	w.WriteUint32(accountDoId)
	w.WriteString(info.AccountName)
	w.WriteUint8(boolByte(info.AccountNameApproved))
	w.WriteString(yesNo(info.OpenChatEnabled))
	w.WriteString(index3(friendsWithChat, info.CreateFriendsWithChat))
	w.WriteString(index3(creationRule, info.ChatCodeCreationRule))
	writeEpoch(w, now)
	w.WriteString(paid)
	w.WriteString(yesNo(info.WhitelistChat))
	w.WriteString(now.Format(accountTimeLayout))
	w.WriteInt32(accountDays)
	w.WriteString("NO_PARENT_ACCOUNT")
	w.WriteString(info.UserName)
	c.sendMessage(protocol.ClientLoginToontownResp, w.Bytes())
}

func index3(table [3]string, i int32) string {
	if i < 0 || int(i) >= len(table) {
		return table[0]
	}
	return table[i]
}

// writeEpoch packs the current wall clock as whole seconds plus
// microseconds.
func writeEpoch(w *protocol.Writer, now time.Time) {
	w.WriteUint32(uint32(now.Unix()))
	w.WriteUint32(uint32(now.Nanosecond() / 1000))
}
