package service

import (
	"strings"

	"nexuschat/internal/models"
)

// CanModifyRoom 仅房主可以编辑或删除房间。
func CanModifyRoom(userID uint, room *models.Room) bool {
	return room != nil && userID != 0 && userID == room.HostID
}

// CanModifyMessage 仅作者可以删除消息。
func CanModifyMessage(userID uint, msg *models.Message) bool {
	return msg != nil && userID != 0 && userID == msg.UserID
}

// DeleteStep 表示两步删除流程所处的阶段。
type DeleteStep int

const (
	AwaitingConfirmation DeleteStep = iota
	Executed
)

func (s DeleteStep) String() string {
	if s == Executed {
		return "executed"
	}
	return "awaiting_confirmation"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern 生成大小写不敏感的子串匹配模式，转义 LIKE 通配符。
func containsPattern(q string) string {
	return "%" + strings.ToLower(likeEscaper.Replace(q)) + "%"
}

const likeEscape = ` LIKE ? ESCAPE '\'`
