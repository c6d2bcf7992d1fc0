package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/kamikazebr/musa-estate/internal/server/rtdb"
	"github.com/kamikazebr/musa-estate/pkg/models"
	"google.golang.org/api/iterator"
)

const (
	platformLogScope      = "platform"
	defaultSecurityLimit  = 100
	memorySecurityLogSize = 500
	securityWriteTimeout  = 5 * time.Second
)

// SecurityLogService stores the audit trail.
// Path: security_logs/{estate_id}/entries/{id}
//
// Without a Firestore client the most recent entries are kept in memory.
type SecurityLogService struct {
	firestoreClient *firestore.Client
	policy          *Policy

	mu     sync.Mutex
	recent []models.SecurityLogEntry
}

func NewSecurityLogService(client *firestore.Client) *SecurityLogService {
	if client == nil {
		log.Println("Warning: Firestore not configured, security log kept in memory only")
	}
	return &SecurityLogService{firestoreClient: client}
}

// SetPolicy attaches the policy used to authorize listing. The policy itself
// records through this service, so the two are wired after construction.
func (s *SecurityLogService) SetPolicy(p *Policy) {
	s.policy = p
}

// Record writes an entry. Failures are logged and never reach the caller.
func (s *SecurityLogService) Record(ctx context.Context, entry models.SecurityLogEntry) {
	if entry.ID == "" {
		entry.ID = rtdb.NewKey()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	scope := entry.EstateID
	if scope == "" {
		scope = platformLogScope
	}
	log.Printf("Security: %s by %s on %s (estate %s)", entry.Action, entry.ActorID, entry.TargetID, scope)

	if s.firestoreClient == nil {
		s.mu.Lock()
		s.recent = append(s.recent, entry)
		if len(s.recent) > memorySecurityLogSize {
			s.recent = s.recent[len(s.recent)-memorySecurityLogSize:]
		}
		s.mu.Unlock()
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), securityWriteTimeout)
	defer cancel()
	_, err := s.firestoreClient.
		Collection("security_logs").
		Doc(scope).
		Collection("entries").
		Doc(entry.ID).
		Set(wctx, entry)
	if err != nil {
		log.Printf("Warning: failed to write security log entry %s: %v", entry.ID, err)
	}
}

// List returns an estate's newest entries. Platform admins may pass an empty
// estate to read platform-level entries.
func (s *SecurityLogService) List(ctx context.Context, actor models.Actor, estateID string, limit int) ([]models.SecurityLogEntry, error) {
	if estateID == "" && !actor.PlatformAdmin {
		estateID = actor.EstateID
	}
	scope := estateID
	if scope == "" {
		scope = platformLogScope
	}
	if scope == platformLogScope {
		if !actor.PlatformAdmin {
			return nil, s.policy.deny(ctx, actor, "security_logs", scope, ErrForbidden)
		}
	} else if err := s.policy.CanAdministerEstate(ctx, actor, scope); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSecurityLimit
	}

	if s.firestoreClient == nil {
		return s.listMemory(scope, limit), nil
	}

	iter := s.firestoreClient.
		Collection("security_logs").
		Doc(scope).
		Collection("entries").
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	entries := make([]models.SecurityLogEntry, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate security logs: %w", err)
		}
		var e models.SecurityLogEntry
		if err := doc.DataTo(&e); err != nil {
			return nil, fmt.Errorf("failed to parse security log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *SecurityLogService) listMemory(scope string, limit int) []models.SecurityLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]models.SecurityLogEntry, 0)
	for i := len(s.recent) - 1; i >= 0 && len(entries) < limit; i-- {
		e := s.recent[i]
		entryScope := e.EstateID
		if entryScope == "" {
			entryScope = platformLogScope
		}
		if entryScope == scope {
			entries = append(entries, e)
		}
	}
	return entries
}
