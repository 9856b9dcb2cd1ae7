package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ByRecordID struct {
	RecordID uuid.UUID
}

func (s ByRecordID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("record_id = ?", s.RecordID)
}

type ByDocumentID struct {
	DocumentID uuid.UUID
}

func (s ByDocumentID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("document_id = ?", s.DocumentID)
}

type ByContentHash struct {
	Hash string
}

func (s ByContentHash) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("content_hash = ?", s.Hash)
}

type ByStatusIn struct {
	Statuses []string
}

func (s ByStatusIn) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("status IN ?", s.Statuses)
}

type ByUrlHash struct {
	Hash string
}

func (s ByUrlHash) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("url_hash = ?", s.Hash)
}
