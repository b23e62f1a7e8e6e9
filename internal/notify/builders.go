package notify

import (
	"fmt"
	"miyav/internal/models"
	"time"
	"unicode/utf8"
)

// previewLength is the number of characters of a message shown in a notification.
const previewLength = 50

type FriendRequestData struct {
	FromUser models.UserSummary `json:"fromUser"`
}

type MessageData struct {
	FromUser models.UserSummary `json:"fromUser"`
	Message  string             `json:"message"`
}

type GameStatusData struct {
	User      models.UserSummary `json:"user"`
	Game      string             `json:"game"`
	IsPlaying bool               `json:"isPlaying"`
}

type StatusChangeData struct {
	User   models.UserSummary `json:"user"`
	Status models.UserStatus  `json:"status"`
}

func FriendRequest(from models.User, now time.Time) models.Notification {
	return models.Notification{
		Type:      models.NotificationTypeFriendRequest,
		Title:     "Yeni Arkadaşlık İsteği",
		Message:   fmt.Sprintf("%s size arkadaşlık isteği gönderdi", from.DisplayName),
		Data:      FriendRequestData{FromUser: from.Summary()},
		Timestamp: now.Unix(),
	}
}

func Message(from models.User, text string, now time.Time) models.Notification {
	return models.Notification{
		Type:      models.NotificationTypeMessage,
		Title:     "Yeni Mesaj",
		Message:   fmt.Sprintf("%s: %s", from.DisplayName, preview(text)),
		Data:      MessageData{FromUser: from.Summary(), Message: text},
		Timestamp: now.Unix(),
	}
}

func GameStatus(user models.User, game string, playing bool, now time.Time) models.Notification {
	title := "Oyun Bitti"
	msg := fmt.Sprintf("%s %s oyununu bıraktı", user.DisplayName, game)
	if playing {
		title = "Oyun Başladı"
		msg = fmt.Sprintf("%s %s oyununu oynamaya başladı", user.DisplayName, game)
	}
	return models.Notification{
		Type:    models.NotificationTypeGameStatus,
		Title:   title,
		Message: msg,
		Data: GameStatusData{
			User:      user.Summary(),
			Game:      game,
			IsPlaying: playing,
		},
		Timestamp: now.Unix(),
	}
}

var statusText = map[models.UserStatus][2]string{
	models.UserStatusOnline:  {"Çevrimiçi", "çevrimiçi"},
	models.UserStatusOffline: {"Çevrimdışı", "çevrimdışı"},
	models.UserStatusBusy:    {"Meşgul", "meşgul"},
}

func StatusChange(user models.User, status models.UserStatus, now time.Time) models.Notification {
	text, ok := statusText[status]
	if !ok {
		text = [2]string{string(status), string(status)}
	}
	return models.Notification{
		Type:    models.NotificationTypeStatusChange,
		Title:   text[0],
		Message: fmt.Sprintf("%s %s oldu", user.DisplayName, text[1]),
		Data: StatusChangeData{
			User:   user.Summary(),
			Status: status,
		},
		Timestamp: now.Unix(),
	}
}

func System(title, message string, data any, now time.Time) models.Notification {
	if data == nil {
		data = map[string]any{}
	}
	return models.Notification{
		Type:      models.NotificationTypeSystem,
		Title:     title,
		Message:   message,
		Data:      data,
		Timestamp: now.Unix(),
	}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "..."
}
