package server

import (
	"context"
	"sync"

	"github.com/lumenworks/backoffice/internal/content"
	"github.com/lumenworks/backoffice/internal/draft"
	"github.com/lumenworks/backoffice/internal/panel"
)

// contentSaver adapts the content service to the panel controller's Saver
// contract: kinds are validated, and the persisted row is projected back into
// the field map the refreshed draft is seeded from.
type contentSaver struct {
	service *content.Service
}

func (s *contentSaver) Save(ctx context.Context, recordID, kind string, fields draft.Fields) (panel.PersistedRecord, error) {
	parsedKind, err := content.NewKind(kind)
	if err != nil {
		return panel.PersistedRecord{}, err
	}
	record, err := s.service.SaveRecord(ctx, recordID, parsedKind, fields)
	if err != nil {
		return panel.PersistedRecord{}, err
	}
	projected, err := content.DraftFields(record)
	if err != nil {
		return panel.PersistedRecord{}, err
	}
	return panel.PersistedRecord{
		ID:     record.RecordID,
		Kind:   record.Kind,
		Fields: projected,
	}, nil
}

func templateFields(kind string) draft.Fields {
	parsedKind, err := content.NewKind(kind)
	if err != nil {
		return draft.Fields{}
	}
	return content.TemplateFor(parsedKind)
}

// sessionRegistry lazily builds one panel controller per authenticated admin
// subject, so each admin's edit sessions are isolated while content itself is
// shared.
type sessionRegistry struct {
	mu          sync.Mutex
	controllers map[string]*panel.Controller
	build       func() (*panel.Controller, error)
}

func newSessionRegistry(build func() (*panel.Controller, error)) *sessionRegistry {
	return &sessionRegistry{
		controllers: make(map[string]*panel.Controller),
		build:       build,
	}
}

func (r *sessionRegistry) controllerFor(subject string) (*panel.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if controller, ok := r.controllers[subject]; ok {
		return controller, nil
	}
	controller, err := r.build()
	if err != nil {
		return nil, err
	}
	r.controllers[subject] = controller
	return controller, nil
}
