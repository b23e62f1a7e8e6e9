package storage

import (
	"encoding"
	"encoding/binary"
	"miyav/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBGame struct {
	Name      string `msgpack:"name"`
	StartTime int64  `msgpack:"startTime"`
}

type DBFriendRequest struct {
	ID        string `msgpack:"id"`
	From      string `msgpack:"from"`
	Status    string `msgpack:"status"`
	CreatedAt int64  `msgpack:"createdAt"`
}

type DBUser struct {
	ID               string            `msgpack:"id"`
	Username         string            `msgpack:"username"`
	DisplayName      string            `msgpack:"displayName"`
	Email            string            `msgpack:"email"`
	Avatar           string            `msgpack:"avatar"`
	PasswordHash     string            `msgpack:"passwordHash"`
	Status           string            `msgpack:"status"`
	LastSeen         int64             `msgpack:"lastSeen"`
	CurrentGame      *DBGame           `msgpack:"currentGame"`
	Friends          []string          `msgpack:"friends"`
	FriendRequests   []DBFriendRequest `msgpack:"friendRequests"`
	PushSubscription string            `msgpack:"pushSubscription"`
	CreatedAt        int64             `msgpack:"createdAt"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

func newDBUser(a models.Account) *DBUser {
	u := &DBUser{
		ID:               a.ID,
		Username:         a.Username,
		DisplayName:      a.DisplayName,
		Email:            a.Email,
		Avatar:           a.Avatar,
		PasswordHash:     a.PasswordHash,
		Status:           string(a.Status),
		LastSeen:         a.LastSeen,
		Friends:          a.Friends,
		PushSubscription: a.PushSubscription,
		CreatedAt:        a.CreatedAt,
	}
	if a.CurrentGame != nil {
		u.CurrentGame = &DBGame{
			Name:      a.CurrentGame.Name,
			StartTime: a.CurrentGame.StartTime,
		}
	}
	if len(a.FriendRequests) > 0 {
		u.FriendRequests = make([]DBFriendRequest, len(a.FriendRequests))
		for i, r := range a.FriendRequests {
			u.FriendRequests[i] = DBFriendRequest{
				ID:        r.ID,
				From:      r.From,
				Status:    string(r.Status),
				CreatedAt: r.CreatedAt,
			}
		}
	}
	return u
}

func (u *DBUser) account() models.Account {
	a := models.Account{
		User: models.User{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Avatar:      u.Avatar,
			Status:      models.UserStatus(u.Status),
			LastSeen:    u.LastSeen,
		},
		Email:            u.Email,
		PasswordHash:     u.PasswordHash,
		Friends:          u.Friends,
		PushSubscription: u.PushSubscription,
		CreatedAt:        u.CreatedAt,
	}
	if u.CurrentGame != nil {
		a.CurrentGame = &models.Game{
			Name:      u.CurrentGame.Name,
			StartTime: u.CurrentGame.StartTime,
		}
	}
	if len(u.FriendRequests) > 0 {
		a.FriendRequests = make([]models.FriendRequest, len(u.FriendRequests))
		for i, r := range u.FriendRequests {
			a.FriendRequests[i] = models.FriendRequest{
				ID:        r.ID,
				From:      r.From,
				Status:    models.FriendRequestStatus(r.Status),
				CreatedAt: r.CreatedAt,
			}
		}
	}
	return a
}

type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	ID        string `msgpack:"id"`
	Sender    string `msgpack:"sender"`
	Receiver  string `msgpack:"receiver"`
	Room      string `msgpack:"room"`
	Content   string `msgpack:"content"`
	Type      string `msgpack:"type"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBMessage) message() models.DirectMessage {
	return models.DirectMessage{
		ID:        m.ID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Room:      m.Room,
		Content:   m.Content,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
	}
}

// FileMetadata describes an upload. Hash addresses the blob in the file store.
type FileMetadata struct {
	ID        string `msgpack:"id" json:"id"`
	Hash      string `msgpack:"hash" json:"-"`
	Name      string `msgpack:"name" json:"name"`
	MimeType  string `msgpack:"mimeType" json:"mimeType"`
	Size      int64  `msgpack:"size" json:"size"`
	CreatedAt int64  `msgpack:"createdAt" json:"createdAt"`
	UserID    string `msgpack:"userId" json:"userId"`
}

func (f *FileMetadata) Key() []byte {
	return []byte(f.ID)
}

func (f *FileMetadata) MarshalBinary() ([]byte, error) {
	type alias FileMetadata
	return msgpack.Marshal((*alias)(f))
}

func (f *FileMetadata) UnmarshalBinary(data []byte) error {
	type alias FileMetadata
	return msgpack.Unmarshal(data, (*alias)(f))
}
