package cassandra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/pkg/metrics"
)

// ErrNotFound is returned when a message or locator does not exist
var ErrNotFound = errors.New("not found")

// maxScanBuckets bounds how many monthly partitions a single read walks back through
const maxScanBuckets = 120

const locatorTable = "message_locator"

// MessageRepository handles message storage in Cassandra.
// Messages are bucketed by month: direct tables are partitioned by (conversation_id, bucket),
// group tables by (channel_id, bucket), both clustered by created_at DESC, message_id.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

func partitionColumn(kind domain.ConversationKind) string {
	if kind == domain.KindGroup {
		return "channel_id"
	}
	return "conversation_id"
}

const messageColumns = `message_id, group_id, sender_id, body, message_type, reply_to, attachments, poll,
		       is_read, is_pinned, pinned_by, pinned_at, created_at`

// Save inserts the message into its universe partition and stamps its locator
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.Bucket == 0 {
		message.Bucket = domain.CalculateBucket(message.CreatedAt)
	}

	replyTo, attachments, poll, err := encodeExtras(message)
	if err != nil {
		return err
	}

	ref := message.Ref()
	table := ref.MessageTable()
	query := fmt.Sprintf(`
		INSERT INTO %s (
			%s, bucket, message_id, group_id, sender_id, body, message_type,
			reply_to, attachments, poll, is_read, is_pinned, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, false, false, ?)
	`, table, partitionColumn(message.Kind))

	start := time.Now()
	err = r.session.Query(query,
		gocql.UUID(message.ContainerID),
		message.Bucket,
		gocql.UUID(message.MessageID),
		gocql.UUID(message.GroupID),
		gocql.UUID(message.SenderID),
		message.Ciphertext,
		string(message.MessageType),
		replyTo,
		attachments,
		poll,
		message.CreatedAt,
	).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("insert", table, start, err)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	start = time.Now()
	err = r.session.Query(`
		INSERT INTO message_locator (
			message_id, universe, kind, container_id, group_id, sender_id, bucket, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		gocql.UUID(message.MessageID),
		string(message.Universe),
		string(message.Kind),
		gocql.UUID(message.ContainerID),
		gocql.UUID(message.GroupID),
		gocql.UUID(message.SenderID),
		message.Bucket,
		message.CreatedAt,
	).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("insert", locatorTable, start, err)
	if err != nil {
		return fmt.Errorf("failed to save message locator: %w", err)
	}

	return nil
}

// ListRecent returns up to limit of the newest messages in the container, oldest first.
// It walks monthly buckets backwards from now and stops at the bucket of since.
func (r *MessageRepository) ListRecent(ctx context.Context, ref domain.ConversationRef, since time.Time, limit int) ([]*domain.Message, error) {
	table := ref.MessageTable()
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s = ? AND bucket = ?
		LIMIT ?
	`, messageColumns, table, partitionColumn(ref.Kind))

	floor := domain.CalculateBucket(since)
	bucket := domain.CalculateBucket(time.Now())
	var messages []*domain.Message

	for i := 0; i < maxScanBuckets && bucket >= floor && len(messages) < limit; i++ {
		start := time.Now()
		iter := r.session.Query(query, gocql.UUID(ref.ContainerID()), bucket, limit-len(messages)).WithContext(ctx).Iter()
		for {
			m, ok := scanMessage(iter, ref, bucket)
			if !ok {
				break
			}
			messages = append(messages, m)
		}
		err := iter.Close()
		metrics.ObserveCassandraQuery("select", table, start, err)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}
		bucket = domain.PreviousBucket(bucket)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// GetLocator resolves the partition that holds a message
func (r *MessageRepository) GetLocator(ctx context.Context, messageID uuid.UUID) (*domain.MessageLocator, error) {
	var (
		universe, kind                     string
		id, containerID, groupID, senderID gocql.UUID
		loc                                domain.MessageLocator
	)

	start := time.Now()
	err := r.session.Query(`
		SELECT message_id, universe, kind, container_id, group_id, sender_id, bucket, created_at
		FROM message_locator
		WHERE message_id = ?
	`, gocql.UUID(messageID)).WithContext(ctx).Scan(
		&id, &universe, &kind, &containerID, &groupID, &senderID, &loc.Bucket, &loc.CreatedAt,
	)
	metrics.ObserveCassandraQuery("select", locatorTable, start, ignoreNotFound(err))
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message locator: %w", err)
	}

	loc.MessageID = uuid.UUID(id)
	loc.Universe = domain.Universe(universe)
	loc.Kind = domain.ConversationKind(kind)
	loc.ContainerID = uuid.UUID(containerID)
	loc.GroupID = uuid.UUID(groupID)
	loc.SenderID = uuid.UUID(senderID)
	return &loc, nil
}

// Get retrieves the message addressed by a locator
func (r *MessageRepository) Get(ctx context.Context, loc *domain.MessageLocator) (*domain.Message, error) {
	ref := loc.Ref()
	table := ref.MessageTable()
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s = ? AND bucket = ? AND created_at = ? AND message_id = ?
	`, messageColumns, table, partitionColumn(ref.Kind))

	start := time.Now()
	iter := r.session.Query(query,
		gocql.UUID(loc.ContainerID), loc.Bucket, loc.CreatedAt, gocql.UUID(loc.MessageID),
	).WithContext(ctx).Iter()
	m, ok := scanMessage(iter, ref, loc.Bucket)
	err := iter.Close()
	metrics.ObserveCassandraQuery("select", table, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

// Delete removes the message row and its locator
func (r *MessageRepository) Delete(ctx context.Context, loc *domain.MessageLocator) error {
	ref := loc.Ref()
	table := ref.MessageTable()

	start := time.Now()
	err := r.session.Query(fmt.Sprintf(`
		DELETE FROM %s WHERE %s = ? AND bucket = ? AND created_at = ? AND message_id = ?
	`, table, partitionColumn(ref.Kind)),
		gocql.UUID(loc.ContainerID), loc.Bucket, loc.CreatedAt, gocql.UUID(loc.MessageID),
	).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("delete", table, start, err)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	start = time.Now()
	err = r.session.Query(`DELETE FROM message_locator WHERE message_id = ?`, gocql.UUID(loc.MessageID)).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("delete", locatorTable, start, err)
	if err != nil {
		return fmt.Errorf("failed to delete message locator: %w", err)
	}
	return nil
}

// SetPin marks the message pinned by actor at the given time
func (r *MessageRepository) SetPin(ctx context.Context, loc *domain.MessageLocator, actor uuid.UUID, at time.Time) error {
	return r.updatePin(ctx, loc, true, gocql.UUID(actor), &at)
}

// ClearPin unpins the message and clears who pinned it and when
func (r *MessageRepository) ClearPin(ctx context.Context, loc *domain.MessageLocator) error {
	return r.updatePin(ctx, loc, false, nil, nil)
}

func (r *MessageRepository) updatePin(ctx context.Context, loc *domain.MessageLocator, pinned bool, by interface{}, at *time.Time) error {
	ref := loc.Ref()
	table := ref.MessageTable()

	start := time.Now()
	err := r.session.Query(fmt.Sprintf(`
		UPDATE %s SET is_pinned = ?, pinned_by = ?, pinned_at = ?
		WHERE %s = ? AND bucket = ? AND created_at = ? AND message_id = ?
	`, table, partitionColumn(ref.Kind)),
		pinned, by, at,
		gocql.UUID(loc.ContainerID), loc.Bucket, loc.CreatedAt, gocql.UUID(loc.MessageID),
	).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("update", table, start, err)
	if err != nil {
		return fmt.Errorf("failed to update pin: %w", err)
	}
	return nil
}

// MarkDirectRead sets is_read on every message in the conversation sent by someone
// other than reader up to now. Reads move forward, so the walk stops at the first
// bucket whose newest partner message is already read.
func (r *MessageRepository) MarkDirectRead(ctx context.Context, ref domain.ConversationRef, reader uuid.UUID, since time.Time) (int, error) {
	table := ref.MessageTable()
	selectQuery := fmt.Sprintf(`
		SELECT sender_id, created_at, message_id, is_read
		FROM %s
		WHERE conversation_id = ? AND bucket = ?
	`, table)
	updateQuery := fmt.Sprintf(`
		UPDATE %s SET is_read = true
		WHERE conversation_id = ? AND bucket = ? AND created_at = ? AND message_id = ?
	`, table)

	now := time.Now().UTC()
	floor := domain.CalculateBucket(since)
	bucket := domain.CalculateBucket(now)
	container := gocql.UUID(ref.ConversationID)
	marked := 0

	for i := 0; i < maxScanBuckets && bucket >= floor; i++ {
		batch := r.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		reachedRead := false

		start := time.Now()
		iter := r.session.Query(selectQuery, container, bucket).WithContext(ctx).Iter()
		var (
			senderID, messageID gocql.UUID
			createdAt           time.Time
			isRead              bool
		)
		for iter.Scan(&senderID, &createdAt, &messageID, &isRead) {
			if uuid.UUID(senderID) == reader || createdAt.After(now) {
				continue
			}
			if isRead {
				reachedRead = true
				break
			}
			batch.Query(updateQuery, container, bucket, createdAt, messageID)
		}
		err := iter.Close()
		metrics.ObserveCassandraQuery("select", table, start, err)
		if err != nil {
			return marked, fmt.Errorf("failed to scan unread messages: %w", err)
		}

		if n := batch.Size(); n > 0 {
			start = time.Now()
			err = r.session.ExecuteBatch(batch)
			metrics.ObserveCassandraQuery("update", table, start, err)
			if err != nil {
				return marked, fmt.Errorf("failed to mark messages read: %w", err)
			}
			marked += n
		}
		if reachedRead {
			break
		}
		bucket = domain.PreviousBucket(bucket)
	}
	return marked, nil
}

// UpsertReadReceipt records how far a member has read a group channel
func (r *MessageRepository) UpsertReadReceipt(ctx context.Context, universe domain.Universe, receipt *domain.ReadReceipt) error {
	table, err := universe.GroupTable(domain.TableGroupReadReceipts)
	if err != nil {
		return err
	}

	start := time.Now()
	err = r.session.Query(fmt.Sprintf(`
		INSERT INTO %s (channel_id, user_id, read_at) VALUES (?, ?, ?)
	`, table), gocql.UUID(receipt.ChannelID), gocql.UUID(receipt.UserID), receipt.ReadAt).WithContext(ctx).Exec()
	metrics.ObserveCassandraQuery("insert", table, start, err)
	if err != nil {
		return fmt.Errorf("failed to save read receipt: %w", err)
	}
	return nil
}

// ListReadReceipts returns the receipts of a channel
func (r *MessageRepository) ListReadReceipts(ctx context.Context, universe domain.Universe, channelID uuid.UUID) ([]*domain.ReadReceipt, error) {
	table, err := universe.GroupTable(domain.TableGroupReadReceipts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	iter := r.session.Query(fmt.Sprintf(`
		SELECT user_id, read_at FROM %s WHERE channel_id = ?
	`, table), gocql.UUID(channelID)).WithContext(ctx).Iter()

	var receipts []*domain.ReadReceipt
	var userID gocql.UUID
	var readAt time.Time
	for iter.Scan(&userID, &readAt) {
		receipts = append(receipts, &domain.ReadReceipt{ChannelID: channelID, UserID: uuid.UUID(userID), ReadAt: readAt})
	}
	err = iter.Close()
	metrics.ObserveCassandraQuery("select", table, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list read receipts: %w", err)
	}
	return receipts, nil
}

func scanMessage(iter *gocql.Iter, ref domain.ConversationRef, bucket int) (*domain.Message, bool) {
	var (
		id, groupID, senderID, pinnedBy gocql.UUID
		messageType                     string
		replyTo, attachments, poll      string
		pinnedAt                        time.Time
	)
	m := &domain.Message{
		Universe:    ref.Universe,
		Kind:        ref.Kind,
		ContainerID: ref.ContainerID(),
		Bucket:      bucket,
	}
	if !iter.Scan(
		&id, &groupID, &senderID, &m.Ciphertext, &messageType, &replyTo, &attachments, &poll,
		&m.IsRead, &m.IsPinned, &pinnedBy, &pinnedAt, &m.CreatedAt,
	) {
		return nil, false
	}

	m.MessageID = uuid.UUID(id)
	m.GroupID = uuid.UUID(groupID)
	m.SenderID = uuid.UUID(senderID)
	m.MessageType = domain.MessageType(messageType)
	if m.IsPinned {
		by := uuid.UUID(pinnedBy)
		at := pinnedAt
		m.PinnedBy = &by
		m.PinnedAt = &at
	}
	decodeExtras(m, replyTo, attachments, poll)
	return m, true
}

// encodeExtras serializes the optional structured columns; empty values are stored as ""
func encodeExtras(m *domain.Message) (replyTo, attachments, poll string, err error) {
	if m.ReplyTo != nil {
		b, err := json.Marshal(m.ReplyTo)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to encode reply: %w", err)
		}
		replyTo = string(b)
	}
	if len(m.Attachments) > 0 {
		b, err := json.Marshal(m.Attachments)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to encode attachments: %w", err)
		}
		attachments = string(b)
	}
	if m.Poll != nil {
		b, err := json.Marshal(m.Poll)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to encode poll: %w", err)
		}
		poll = string(b)
	}
	return replyTo, attachments, poll, nil
}

// decodeExtras restores the structured columns. A malformed column is dropped
// rather than failing the whole page.
func decodeExtras(m *domain.Message, replyTo, attachments, poll string) {
	if replyTo != "" {
		var ref domain.ReplyRef
		if json.Unmarshal([]byte(replyTo), &ref) == nil {
			m.ReplyTo = &ref
		}
	}
	if attachments != "" {
		_ = json.Unmarshal([]byte(attachments), &m.Attachments)
	}
	if poll != "" {
		var p domain.PollPayload
		if json.Unmarshal([]byte(poll), &p) == nil {
			m.Poll = &p
		}
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return nil
	}
	return err
}
