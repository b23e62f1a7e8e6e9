package storage

import (
	"errors"
	"fmt"
	"miyav/internal/models"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers     = []byte("users")
	bucketUsernames = []byte("usernames")
	bucketEmails    = []byte("emails")
	bucketMessages  = []byte("messages")
	bucketFiles     = []byte("files")
)

var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrEmailTaken    = errors.New("email already registered")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketUsernames, bucketEmails, bucketMessages, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func indexKey(s string) []byte {
	return []byte(strings.ToLower(s))
}

// CreateAccount stores a new account. Usernames and emails are unique case-insensitively.
func (s *BboltStorage) CreateAccount(acc models.Account) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketUsernames)
		if names.Get(indexKey(acc.Username)) != nil {
			return ErrUsernameTaken
		}
		emails := tx.Bucket(bucketEmails)
		if acc.Email != "" {
			if emails.Get(indexKey(acc.Email)) != nil {
				return ErrEmailTaken
			}
			if err := emails.Put(indexKey(acc.Email), []byte(acc.ID)); err != nil {
				return err
			}
		}
		if err := names.Put(indexKey(acc.Username), []byte(acc.ID)); err != nil {
			return err
		}
		return putUser(tx, newDBUser(acc))
	})
}

func put(tx *bbolt.Tx, bucket []byte, v Storeable) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", bucket, err)
	}
	return tx.Bucket(bucket).Put(v.Key(), data)
}

// get decodes the record stored under key into v or returns models.ErrNotFound.
func get(tx *bbolt.Tx, bucket []byte, key string, v Storeable) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s %s: %w", bucket, key, models.ErrNotFound)
	}
	if err := v.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("failed to unmarshal %s record %s: %w", bucket, key, err)
	}
	return nil
}

func putUser(tx *bbolt.Tx, u *DBUser) error {
	return put(tx, bucketUsers, u)
}

func getUser(tx *bbolt.Tx, id string) (*DBUser, error) {
	var u DBUser
	if err := get(tx, bucketUsers, id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *BboltStorage) GetAccount(id string) (models.Account, error) {
	var acc models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		u, err := getUser(tx, id)
		if err != nil {
			return err
		}
		acc = u.account()
		return nil
	})
	return acc, err
}

func (s *BboltStorage) getIndexed(bucket []byte, value string) (models.Account, error) {
	var acc models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucket).Get(indexKey(value))
		if id == nil {
			return fmt.Errorf("%s %q: %w", bucket, value, models.ErrNotFound)
		}
		u, err := getUser(tx, string(id))
		if err != nil {
			return err
		}
		acc = u.account()
		return nil
	})
	return acc, err
}

func (s *BboltStorage) GetAccountByUsername(username string) (models.Account, error) {
	return s.getIndexed(bucketUsernames, username)
}

func (s *BboltStorage) GetAccountByEmail(email string) (models.Account, error) {
	return s.getIndexed(bucketEmails, email)
}

// UpdateAccount loads the account, applies fn and stores the result in one transaction.
// Nothing is written when fn returns an error.
func (s *BboltStorage) UpdateAccount(id string, fn func(*models.Account) error) (models.Account, error) {
	var acc models.Account
	err := s.db.Update(func(tx *bbolt.Tx) error {
		u, err := getUser(tx, id)
		if err != nil {
			return err
		}
		acc = u.account()
		if err := fn(&acc); err != nil {
			return err
		}
		return putUser(tx, newDBUser(acc))
	})
	if err != nil {
		return models.Account{}, err
	}
	return acc, nil
}

// UpdatePair applies fn to two accounts atomically, e.g. to link friends both ways.
func (s *BboltStorage) UpdatePair(idA, idB string, fn func(a, b *models.Account) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ua, err := getUser(tx, idA)
		if err != nil {
			return err
		}
		ub, err := getUser(tx, idB)
		if err != nil {
			return err
		}
		a, b := ua.account(), ub.account()
		if err := fn(&a, &b); err != nil {
			return err
		}
		if err := putUser(tx, newDBUser(a)); err != nil {
			return err
		}
		return putUser(tx, newDBUser(b))
	})
}

// ListAccounts returns the accounts for ids, skipping unknown ones.
func (s *BboltStorage) ListAccounts(ids []string) ([]models.Account, error) {
	accounts := make([]models.Account, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, id := range ids {
			u, err := getUser(tx, id)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			accounts = append(accounts, u.account())
		}
		return nil
	})
	return accounts, err
}

// SearchAccounts matches query case-insensitively against usernames and display names.
func (s *BboltStorage) SearchAccounts(query string, limit int) ([]models.Account, error) {
	q := strings.ToLower(query)
	var accounts []models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u DBUser
			if err := u.UnmarshalBinary(v); err != nil {
				return err
			}
			if strings.Contains(strings.ToLower(u.Username), q) ||
				strings.Contains(strings.ToLower(u.DisplayName), q) {
				accounts = append(accounts, u.account())
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Username < accounts[j].Username
	})
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

// ConversationID returns the stable key of the conversation between two users.
func ConversationID(u1, u2 string) string {
	ids := []string{u1, u2}
	sort.Strings(ids)
	return fmt.Sprintf("dm_%s_%s", ids[0], ids[1])
}

// SaveMessage appends a direct message to the conversation of its sender and receiver.
func (s *BboltStorage) SaveMessage(msg models.DirectMessage) error {
	if msg.Sender == "" || msg.Receiver == "" {
		return errors.New("message missing sender or receiver")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		conv, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(ConversationID(msg.Sender, msg.Receiver)))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}
		seq, err := conv.NextSequence()
		if err != nil {
			return err
		}

		dbMsg := DBMessage{
			Seq:       seq,
			ID:        msg.ID,
			Sender:    msg.Sender,
			Receiver:  msg.Receiver,
			Room:      msg.Room,
			Content:   msg.Content,
			Type:      msg.Type,
			CreatedAt: msg.CreatedAt,
		}
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return conv.Put(dbMsg.Key(), data)
	})
}

// ListConversation returns up to limit most recent messages between two users, oldest first.
func (s *BboltStorage) ListConversation(u1, u2 string, limit int) ([]models.DirectMessage, error) {
	var messages []models.DirectMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		conv := tx.Bucket(bucketMessages).Bucket([]byte(ConversationID(u1, u2)))
		if conv == nil {
			return nil
		}

		c := conv.Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(messages) < limit); k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.message())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
