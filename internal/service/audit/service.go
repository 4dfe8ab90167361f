package audit

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/pkg/logger"
)

// GenesisHash is the previous hash of the first record in the chain.
var GenesisHash = strings.Repeat("0", 64)

// Entry is one settlement action to be recorded.
type Entry struct {
	ActorID    *uuid.UUID
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Changes    interface{}
}

type Service struct {
	store  repository.Store
	logger *logger.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store repository.Store, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{store: store, logger: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends e to the chain through repo, which should be bound to the
// caller's transaction.
func (s *Service) Record(ctx context.Context, repo repository.AuditRepository, e Entry) (*model.AuditLog, error) {
	changes, err := canonicalChanges(e.Changes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit changes: %w", err)
	}

	last, err := repo.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit chain head: %w", err)
	}
	prevHash, seq := GenesisHash, int64(1)
	if last != nil {
		prevHash, seq = last.Hash, last.Sequence+1
	}

	log := &model.AuditLog{
		ID:           uuid.New(),
		Sequence:     seq,
		ActorID:      e.ActorID,
		Action:       e.Action,
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		Changes:      changes,
		PreviousHash: prevHash,
		// Postgres keeps microseconds; the hash must survive the round trip.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	log.Hash, err = ComputeHash(log)
	if err != nil {
		return nil, err
	}

	if err := repo.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to append audit record: %w", err)
	}
	return log, nil
}

// Log records e in its own transaction. It is used for events whose
// surrounding transaction was rolled back, such as rejected writes.
func (s *Service) Log(ctx context.Context, e Entry) error {
	return s.store.WithTx(ctx, func(tx repository.Repositories) error {
		_, err := s.Record(ctx, tx.Audit(), e)
		return err
	})
}

// Verify walks the chain between two sequence numbers (to <= 0 means the
// head) and reports the first record whose hash or link does not match.
func (s *Service) Verify(ctx context.Context, from, to int64) (*model.ChainVerification, error) {
	if from < 1 {
		from = 1
	}
	logs, err := s.store.Audit().Range(ctx, from-1, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit chain: %w", err)
	}

	result := &model.ChainVerification{Valid: true}
	var prev *model.AuditLog
	for _, l := range logs {
		if l.Sequence < from {
			prev = l
			continue
		}
		result.Checked++

		expectedPrev := GenesisHash
		if prev != nil {
			expectedPrev = prev.Hash
		}
		ok := l.PreviousHash == expectedPrev && (prev == nil || l.Sequence == prev.Sequence+1)
		if ok {
			hash, err := ComputeHash(l)
			if err != nil {
				return nil, err
			}
			ok = hash == l.Hash
		}
		if !ok {
			seq, id := l.Sequence, l.ID
			result.Valid = false
			result.BrokenAt = &seq
			result.BrokenEntryID = &id
			s.logger.Warn("Audit chain broken", "sequence", seq, "audit_id", id.String())
			return result, nil
		}
		prev = l
	}
	return result, nil
}

// Trail returns every record for one entity in chain order.
func (s *Service) Trail(ctx context.Context, entityType string, entityID uuid.UUID) ([]*model.AuditLog, error) {
	return s.store.Audit().List(ctx, &model.AuditFilter{EntityType: entityType, EntityID: &entityID})
}

// ComputeHash is blake2b-256 over the record fields and its previous hash.
func ComputeHash(l *model.AuditLog) (string, error) {
	changes, err := canonicalJSON(l.Changes)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalise audit changes: %w", err)
	}
	actor := ""
	if l.ActorID != nil {
		actor = l.ActorID.String()
	}

	var buf bytes.Buffer
	for _, part := range []string{
		strconv.FormatInt(l.Sequence, 10),
		actor,
		l.Action,
		l.EntityType,
		l.EntityID.String(),
		string(changes),
		l.PreviousHash,
		l.CreatedAt.UTC().Format(time.RFC3339Nano),
	} {
		buf.WriteString(part)
		buf.WriteByte(0)
	}
	sum := blake2b.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func canonicalChanges(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return canonicalJSON(raw)
}

// canonicalJSON re-encodes raw so that key order and whitespace do not
// depend on how the value was stored.
func canonicalJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}
