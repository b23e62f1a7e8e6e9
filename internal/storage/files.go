package storage

import (
	"go.etcd.io/bbolt"
)

// UpsertFileMetadata records an upload. Several records may share one content hash.
func (s *BboltStorage) UpsertFileMetadata(meta FileMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketFiles, &meta)
	})
}

func (s *BboltStorage) GetFileMetadata(id string) (FileMetadata, error) {
	var meta FileMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, bucketFiles, id, &meta)
	})
	return meta, err
}
