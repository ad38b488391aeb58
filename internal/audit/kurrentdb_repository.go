package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	apperrors "github.com/recoverguard/platform/internal/shared/errors"
)

const (
	// AuditStreamName is the stream where all audit entries are stored
	AuditStreamName = "rg-audit"
	// AuditEventType is the event type for audit entries
	AuditEventType = "AuditEntry"
)

// KurrentDBRepository provides append-only audit log operations using
// KurrentDB. The store is inherently append-only, which matches the audit
// contract: events cannot be modified or deleted once written.
type KurrentDBRepository struct {
	client   *esdb.Client
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// NewKurrentDBRepository creates a new KurrentDB-based audit repository
func NewKurrentDBRepository(client *esdb.Client) *KurrentDBRepository {
	return &KurrentDBRepository{client: client}
}

// Initialize loads the last hash and sequence from the audit stream so that
// the chain continues across restarts.
func (r *KurrentDBRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	opts := esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}

	stream, err := r.client.ReadStream(ctx, AuditStreamName, opts, 1)
	if err != nil {
		// Stream doesn't exist yet - that's OK
		if esdbErr, ok := esdb.FromError(err); ok {
			if esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				r.lastHash = ""
				r.sequence = 0
				return nil
			}
		}
		return apperrors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	event, err := stream.Recv()
	if err != nil {
		r.lastHash = ""
		r.sequence = 0
		return nil
	}

	if event.Event != nil && event.Event.EventType == AuditEventType {
		var entry Entry
		if err := json.Unmarshal(event.Event.Data, &entry); err == nil {
			r.lastHash = entry.Hash
			r.sequence = entry.Sequence
		}
	}

	return nil
}

// Append appends a new audit entry (thread-safe)
func (r *KurrentDBRepository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequence++
	entry.Sequence = r.sequence
	entry.PrevHash = r.lastHash
	entry.Hash = entry.computeHash()

	data, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal audit entry")
	}

	eventData := esdb.EventData{
		EventID:     uuid.New(),
		EventType:   AuditEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata: []byte(fmt.Sprintf(`{"sequence":%d,"hash":"%s"}`,
			entry.Sequence, entry.Hash)),
	}

	_, err = r.client.AppendToStream(ctx, AuditStreamName, esdb.AppendToStreamOptions{}, eventData)
	if err != nil {
		return apperrors.Wrap(err, "failed to append audit entry")
	}

	r.lastHash = entry.Hash
	return nil
}

// List lists audit entries newest-first with filters
func (r *KurrentDBRepository) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	opts := esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}

	maxEvents := uint64(1000)
	if filter.Limit > 0 {
		// Read extra to account for filtering
		maxEvents = uint64(filter.Limit + filter.Offset + 100)
	}

	stream, err := r.client.ReadStream(ctx, AuditStreamName, opts, maxEvents)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok {
			if esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				return nil, nil
			}
		}
		return nil, apperrors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	var matched []*Entry
	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}
		if event.Event == nil || event.Event.EventType != AuditEventType {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(event.Event.Data, &entry); err != nil {
			continue
		}
		if !matchesFilter(&entry, filter) {
			continue
		}
		matched = append(matched, &entry)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// VerifyChain replays the stream oldest-first and checks every link
func (r *KurrentDBRepository) VerifyChain(ctx context.Context) (*ChainReport, error) {
	opts := esdb.ReadStreamOptions{
		Direction: esdb.Forwards,
		From:      esdb.Start{},
	}

	stream, err := r.client.ReadStream(ctx, AuditStreamName, opts, ^uint64(0))
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok {
			if esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				return &ChainReport{Valid: true}, nil
			}
		}
		return nil, apperrors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	var entries []*Entry
	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}
		if event.Event == nil || event.Event.EventType != AuditEventType {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(event.Event.Data, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}

	return verifyEntries(entries), nil
}

// Count returns the number of entries appended so far
func (r *KurrentDBRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.sequence), nil
}
