// Package content persists the administrative records (site headers, menu
// nodes, albums, media, offices) behind the edit-session layer.
package content

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the record collections the console manages.
type Kind string

const (
	// KindHeader is a site header banner.
	KindHeader Kind = "header"
	// KindMenu is a navigation menu node; menus nest via ParentID.
	KindMenu Kind = "menu"
	// KindAlbum is a media album, the parent side of the membership set.
	KindAlbum Kind = "album"
	// KindMedia is an uploaded media asset.
	KindMedia Kind = "media"
	// KindOffice is an office settings record.
	KindOffice Kind = "office"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidKind indicates an unrecognized collection name.
	ErrInvalidKind = errors.New("content: invalid kind")
	// ErrInvalidRecordID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidRecordID = errors.New("content: invalid record id")
)

// NewKind validates raw input and returns a Kind.
func NewKind(rawInput string) (Kind, error) {
	trimmed := Kind(strings.TrimSpace(strings.ToLower(rawInput)))
	switch trimmed {
	case KindHeader, KindMenu, KindAlbum, KindMedia, KindOffice:
		return trimmed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, rawInput)
}

// String returns the underlying collection name.
func (k Kind) String() string {
	return string(k)
}

// ValidateRecordID checks a server-assigned record identifier.
func ValidateRecordID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecordID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecordID, maxIdentifierLength)
	}
	return trimmed, nil
}

// Record models one persisted content row. Non-structural fields live in
// PayloadJSON so all five collections share one table and one save path.
type Record struct {
	RecordID         string `gorm:"column:record_id;primaryKey;size:190;not null"`
	Kind             string `gorm:"column:kind;size:32;not null;index:idx_records_kind_parent,priority:1"`
	ParentID         string `gorm:"column:parent_id;size:190;not null;default:'';index:idx_records_kind_parent,priority:2"`
	Position         int    `gorm:"column:position;not null;default:0;index:idx_records_kind_parent,priority:3"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "content_records"
}

// SetMember is one row of the album/media association. The pair is the
// primary key so repeated adds collapse naturally.
type SetMember struct {
	SetID          string `gorm:"column:set_id;primaryKey;size:190;not null"`
	MemberID       string `gorm:"column:member_id;primaryKey;size:190;not null"`
	AddedAtSeconds int64  `gorm:"column:added_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SetMember) TableName() string {
	return "set_members"
}

// TemplateFor returns the canonical empty draft for a kind. Every field the
// collection's form renders is present with an explicit empty value so a
// controlled input never receives absence.
func TemplateFor(kind Kind) map[string]any {
	switch kind {
	case KindHeader:
		return map[string]any{
			"title":     "",
			"subtitle":  "",
			"image_url": "",
			"link_url":  "",
			"visible":   false,
			"position":  0,
		}
	case KindMenu:
		return map[string]any{
			"label":     "",
			"slug":      "",
			"target":    "",
			"visible":   true,
			"parent_id": "",
			"position":  0,
		}
	case KindAlbum:
		return map[string]any{
			"name":        "",
			"description": "",
			"cover_url":   "",
			"position":    0,
		}
	case KindMedia:
		return map[string]any{
			"file_name": "",
			"file_url":  "",
			"mime_type": "",
			"caption":   "",
			"position":  0,
		}
	case KindOffice:
		return map[string]any{
			"name":          "",
			"address":       "",
			"phone":         "",
			"email":         "",
			"opening_hours": "",
			"position":      0,
		}
	}
	return map[string]any{}
}
