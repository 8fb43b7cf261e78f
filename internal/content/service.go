package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumenworks/backoffice/internal/membership"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingSetID      = errors.New("set identifier is required")
	noOpLogger           = zap.NewNop()

	// ErrRecordNotFound indicates that the requested record does not exist.
	ErrRecordNotFound = errors.New("content: record not found")
)

// ServiceError wraps a failure with a dotted operation code for transport
// surfaces to echo verbatim.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "content.service.new"
	opListRecords   = "content.list_records"
	opGetRecord     = "content.get_record"
	opSaveRecord    = "content.save_record"
	opDeleteRecord  = "content.delete_record"
	opListMembers   = "content.list_members"
	opApplyBulk     = "content.apply_bulk"
	opAddMember     = "content.add_member"
	opRemoveMember  = "content.remove_member"
	createRecordKey = "create"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the content service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists content records and album membership rows. It implements
// the collaborator surface the session layer depends on: flat listing for
// tree building, record persistence for panel submits, and the bulk plus
// per-member primitives the membership apply path needs.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// ListRecords returns the complete flat set for a collection, ordered by
// position. Tree building assumes completeness, so there is no pagination.
func (s *Service) ListRecords(ctx context.Context, kind Kind) ([]Record, error) {
	if s.db == nil {
		s.logError(opListRecords, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListRecords, "missing_database", errMissingDatabase)
	}

	var records []Record
	if err := s.db.WithContext(ctx).
		Where("kind = ?", kind.String()).
		Order("position ASC, record_id ASC").
		Find(&records).Error; err != nil {
		s.logError(opListRecords, "query_failed", err, zap.String("kind", kind.String()))
		return nil, newServiceError(opListRecords, "query_failed", err)
	}
	return records, nil
}

// GetRecord loads one record by identifier.
func (s *Service) GetRecord(ctx context.Context, recordID string) (Record, error) {
	if s.db == nil {
		s.logError(opGetRecord, "missing_database", errMissingDatabase)
		return Record{}, newServiceError(opGetRecord, "missing_database", errMissingDatabase)
	}

	var record Record
	err := s.db.WithContext(ctx).Where("record_id = ?", recordID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, newServiceError(opGetRecord, "record_not_found", ErrRecordNotFound)
	}
	if err != nil {
		s.logError(opGetRecord, "query_failed", err, zap.String("record_id", recordID))
		return Record{}, newServiceError(opGetRecord, "query_failed", err)
	}
	return record, nil
}

// SaveRecord persists a draft field map. The reserved identifier "create"
// allocates a new record id; any other identifier must already exist. The
// structural fields parent_id and position are lifted out of the field map,
// fields the kind's template does not define are dropped, and the remainder
// becomes the payload. Saving the same field map twice yields the same stored
// row apart from the version bump.
func (s *Service) SaveRecord(ctx context.Context, recordID string, kind Kind, fields map[string]any) (Record, error) {
	if s.db == nil {
		s.logError(opSaveRecord, "missing_database", errMissingDatabase)
		return Record{}, newServiceError(opSaveRecord, "missing_database", errMissingDatabase)
	}
	if s.idProvider == nil {
		s.logError(opSaveRecord, "missing_id_provider", errMissingIDProvider)
		return Record{}, newServiceError(opSaveRecord, "missing_id_provider", errMissingIDProvider)
	}

	now := s.clock().UTC().Unix()
	var saved Record
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := Record{
			Kind:             kind.String(),
			Version:          0,
			CreatedAtSeconds: now,
		}
		if recordID == createRecordKey {
			newID, err := s.idProvider.NewID()
			if err != nil {
				s.logError(opSaveRecord, "id_generation_failed", err, zap.String("kind", kind.String()))
				return newServiceError(opSaveRecord, "id_generation_failed", err)
			}
			record.RecordID = newID
		} else {
			var existing Record
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("record_id = ?", recordID).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opSaveRecord, "record_not_found", ErrRecordNotFound)
			}
			if err != nil {
				s.logError(opSaveRecord, "record_select_failed", err, zap.String("record_id", recordID))
				return newServiceError(opSaveRecord, "record_select_failed", err)
			}
			record = existing
		}

		payload := TemplateFor(kind)
		for field, value := range fields {
			if _, known := payload[field]; !known {
				continue
			}
			payload[field] = value
		}
		record.ParentID = stringField(payload, "parent_id")
		record.Position = intField(payload, "position")
		delete(payload, "parent_id")
		delete(payload, "position")

		encoded, err := json.Marshal(payload)
		if err != nil {
			s.logError(opSaveRecord, "payload_encode_failed", err, zap.String("record_id", record.RecordID))
			return newServiceError(opSaveRecord, "payload_encode_failed", err)
		}
		record.PayloadJSON = string(encoded)
		record.UpdatedAtSeconds = now
		record.Version = record.Version + 1

		if err := tx.Save(&record).Error; err != nil {
			s.logError(opSaveRecord, "record_save_failed", err, zap.String("record_id", record.RecordID))
			return newServiceError(opSaveRecord, "record_save_failed", err)
		}
		saved = record
		return nil
	})
	if txErr != nil {
		return Record{}, txErr
	}

	s.loggerOrDefault().Info("record saved",
		zap.String("record_id", saved.RecordID),
		zap.String("kind", saved.Kind),
		zap.Int64("version", saved.Version))
	return saved, nil
}

// DeleteRecord removes a record. Deleting an absent record is a no-op so
// retried deletes stay idempotent.
func (s *Service) DeleteRecord(ctx context.Context, recordID string) error {
	if s.db == nil {
		s.logError(opDeleteRecord, "missing_database", errMissingDatabase)
		return newServiceError(opDeleteRecord, "missing_database", errMissingDatabase)
	}
	if err := s.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Delete(&Record{}).Error; err != nil {
		s.logError(opDeleteRecord, "delete_failed", err, zap.String("record_id", recordID))
		return newServiceError(opDeleteRecord, "delete_failed", err)
	}
	return nil
}

// ListMembers returns the full membership of a set. Partial results would
// make reconciliation emit spurious removals, so there is no pagination.
func (s *Service) ListMembers(ctx context.Context, setID string) ([]string, error) {
	if s.db == nil {
		s.logError(opListMembers, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListMembers, "missing_database", errMissingDatabase)
	}
	if setID == "" {
		return nil, newServiceError(opListMembers, "missing_set_id", errMissingSetID)
	}

	var rows []SetMember
	if err := s.db.WithContext(ctx).
		Where("set_id = ?", setID).
		Order("added_at_s ASC, member_id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opListMembers, "query_failed", err, zap.String("set_id", setID))
		return nil, newServiceError(opListMembers, "query_failed", err)
	}

	members := make([]string, 0, len(rows))
	for _, row := range rows {
		members = append(members, row.MemberID)
	}
	return members, nil
}

// ApplyBulk applies a whole reconciliation plan in one transaction.
func (s *Service) ApplyBulk(ctx context.Context, setID string, plan membership.Plan) error {
	if s.db == nil {
		s.logError(opApplyBulk, "missing_database", errMissingDatabase)
		return newServiceError(opApplyBulk, "missing_database", errMissingDatabase)
	}
	if setID == "" {
		return newServiceError(opApplyBulk, "missing_set_id", errMissingSetID)
	}

	now := s.clock().UTC().Unix()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, memberID := range plan.ToAdd {
			row := SetMember{SetID: setID, MemberID: memberID, AddedAtSeconds: now}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		for _, memberID := range plan.ToRemove {
			if err := tx.Where("set_id = ? AND member_id = ?", setID, memberID).
				Delete(&SetMember{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opApplyBulk, "transaction_failed", txErr, zap.String("set_id", setID))
		return newServiceError(opApplyBulk, "transaction_failed", txErr)
	}
	return nil
}

// AddMember attaches one member to a set. Adding a present member is a no-op.
func (s *Service) AddMember(ctx context.Context, setID, memberID string) error {
	if s.db == nil {
		s.logError(opAddMember, "missing_database", errMissingDatabase)
		return newServiceError(opAddMember, "missing_database", errMissingDatabase)
	}
	row := SetMember{SetID: setID, MemberID: memberID, AddedAtSeconds: s.clock().UTC().Unix()}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error; err != nil {
		s.logError(opAddMember, "insert_failed", err,
			zap.String("set_id", setID), zap.String("member_id", memberID))
		return newServiceError(opAddMember, "insert_failed", err)
	}
	return nil
}

// RemoveMember detaches one member from a set. Removing an absent member is
// a no-op.
func (s *Service) RemoveMember(ctx context.Context, setID, memberID string) error {
	if s.db == nil {
		s.logError(opRemoveMember, "missing_database", errMissingDatabase)
		return newServiceError(opRemoveMember, "missing_database", errMissingDatabase)
	}
	if err := s.db.WithContext(ctx).
		Where("set_id = ? AND member_id = ?", setID, memberID).
		Delete(&SetMember{}).Error; err != nil {
		s.logError(opRemoveMember, "delete_failed", err,
			zap.String("set_id", setID), zap.String("member_id", memberID))
		return newServiceError(opRemoveMember, "delete_failed", err)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("content service error", attrs...)
}

func stringField(fields map[string]any, name string) string {
	if value, ok := fields[name].(string); ok {
		return value
	}
	return ""
}

func intField(fields map[string]any, name string) int {
	switch value := fields[name].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0
		}
		return int(parsed)
	}
	return 0
}
