package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"rendezvous-backend/internal/domain"
)

// GroupRepository handles groups, memberships, channels and bans.
// Groups only exist in tagged universes; every method resolves its tables through GroupTable.
type GroupRepository struct {
	pool *pgxpool.Pool
}

// NewGroupRepository creates a new GroupRepository
func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

type groupTables struct {
	groups, members, channels, bans string
}

func tablesFor(universe domain.Universe) (groupTables, error) {
	var t groupTables
	var err error
	if t.groups, err = universe.GroupTable(domain.TableGroups); err != nil {
		return t, err
	}
	t.members = universe.Table(domain.TableGroupMembers)
	t.channels = universe.Table(domain.TableGroupChannels)
	t.bans = universe.Table(domain.TableGroupBans)
	return t, nil
}

// CreateWithDefaultChannel inserts the group, the owner membership and the default
// channel in one transaction
func (r *GroupRepository) CreateWithDefaultChannel(ctx context.Context, group *domain.Group) (*domain.Channel, error) {
	t, err := tablesFor(group.Universe)
	if err != nil {
		return nil, err
	}

	tx, err := beginTx(ctx, r.pool)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	group.CreatedAt = now

	_, err = tx.tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (group_id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4)
	`, t.groups), group.GroupID, group.Name, group.CreatedBy, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	_, err = tx.tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (group_id, user_id, role, is_active, joined_at)
		VALUES ($1, $2, $3, true, $4)
	`, t.members), group.GroupID, group.CreatedBy, domain.RoleOwner, now)
	if err != nil {
		return nil, fmt.Errorf("failed to add group owner: %w", err)
	}

	channel := &domain.Channel{
		ChannelID: uuid.New(),
		GroupID:   group.GroupID,
		Name:      domain.DefaultChannelName,
		IsDefault: true,
		Position:  0,
		CreatedAt: now,
	}
	_, err = tx.tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (channel_id, group_id, name, is_default, position, created_at)
		VALUES ($1, $2, $3, true, 0, $4)
	`, t.channels), channel.ChannelID, channel.GroupID, channel.Name, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create default channel: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit group: %w", err)
	}
	return channel, nil
}

// GetGroup retrieves a group by ID
func (r *GroupRepository) GetGroup(ctx context.Context, universe domain.Universe, groupID uuid.UUID) (*domain.Group, error) {
	t, err := tablesFor(universe)
	if err != nil {
		return nil, err
	}

	g := &domain.Group{Universe: universe}
	err = r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT group_id, name, created_by, created_at FROM %s WHERE group_id = $1
	`, t.groups), groupID).Scan(&g.GroupID, &g.Name, &g.CreatedBy, &g.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// GetMember returns the membership row, active or not
func (r *GroupRepository) GetMember(ctx context.Context, universe domain.Universe, groupID, userID uuid.UUID) (*domain.GroupMember, error) {
	t, err := tablesFor(universe)
	if err != nil {
		return nil, err
	}

	m := &domain.GroupMember{}
	err = r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT group_id, user_id, role, is_active, joined_at
		FROM %s
		WHERE group_id = $1 AND user_id = $2
	`, t.members), groupID, userID).Scan(&m.GroupID, &m.UserID, &m.Role, &m.IsActive, &m.JoinedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// ListActiveMemberIDs returns the active members of a group
func (r *GroupRepository) ListActiveMemberIDs(ctx context.Context, universe domain.Universe, groupID uuid.UUID) ([]uuid.UUID, error) {
	t, err := tablesFor(universe)
	if err != nil {
		return nil, err
	}
	return collectIDs(ctx, r.pool, fmt.Sprintf(`
		SELECT user_id FROM %s WHERE group_id = $1 AND is_active = true
	`, t.members), groupID)
}

// ListActiveGroupIDsForUser returns the groups the user is an active member of
func (r *GroupRepository) ListActiveGroupIDsForUser(ctx context.Context, universe domain.Universe, userID uuid.UUID) ([]uuid.UUID, error) {
	t, err := tablesFor(universe)
	if err != nil {
		return nil, err
	}
	return collectIDs(ctx, r.pool, fmt.Sprintf(`
		SELECT group_id FROM %s WHERE user_id = $1 AND is_active = true
	`, t.members), userID)
}

// AddMember inserts or reactivates a membership. An owner row keeps its role.
func (r *GroupRepository) AddMember(ctx context.Context, universe domain.Universe, member *domain.GroupMember) error {
	t, err := tablesFor(universe)
	if err != nil {
		return err
	}

	member.IsActive = true
	err = r.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s AS m (group_id, user_id, role, is_active, joined_at)
		VALUES ($1, $2, $3, true, now())
		ON CONFLICT (group_id, user_id)
		DO UPDATE SET is_active = true,
			role = CASE WHEN m.role = 'owner' THEN m.role ELSE excluded.role END
		RETURNING joined_at, role
	`, t.members), member.GroupID, member.UserID, member.Role).Scan(&member.JoinedAt, &member.Role)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// GetChannel retrieves a channel of the group
func (r *GroupRepository) GetChannel(ctx context.Context, universe domain.Universe, groupID, channelID uuid.UUID) (*domain.Channel, error) {
	t, err := tablesFor(universe)
	if err != nil {
		return nil, err
	}

	c := &domain.Channel{}
	err = r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT channel_id, group_id, name, is_default, position, created_at
		FROM %s
		WHERE group_id = $1 AND channel_id = $2
	`, t.channels), groupID, channelID).Scan(&c.ChannelID, &c.GroupID, &c.Name, &c.IsDefault, &c.Position, &c.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return c, nil
}

// ListChannels returns the group's channels ordered by position
func (r *GroupRepository) ListChannels(ctx context.Context, universe domain.Universe, groupID uuid.UUID) ([]*domain.Channel, error) {
	t, err := tablesFor(universe)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT channel_id, group_id, name, is_default, position, created_at
		FROM %s
		WHERE group_id = $1
		ORDER BY position ASC
	`, t.channels), groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []*domain.Channel
	for rows.Next() {
		c := &domain.Channel{}
		if err := rows.Scan(&c.ChannelID, &c.GroupID, &c.Name, &c.IsDefault, &c.Position, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// CreateChannel appends a channel after the group's last position
func (r *GroupRepository) CreateChannel(ctx context.Context, universe domain.Universe, channel *domain.Channel) error {
	t, err := tablesFor(universe)
	if err != nil {
		return err
	}

	err = r.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (channel_id, group_id, name, is_default, position, created_at)
		SELECT $1, $2, $3, false, COALESCE(MAX(position), -1) + 1, now()
		FROM %[1]s WHERE group_id = $2
		RETURNING position, created_at
	`, t.channels), channel.ChannelID, channel.GroupID, channel.Name).Scan(&channel.Position, &channel.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	channel.IsDefault = false
	return nil
}

// DeleteChannel removes a non-default channel. Deleting the default channel matches no row.
func (r *GroupRepository) DeleteChannel(ctx context.Context, universe domain.Universe, groupID, channelID uuid.UUID) error {
	t, err := tablesFor(universe)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE group_id = $1 AND channel_id = $2 AND is_default = false
	`, t.channels), groupID, channelID)
	if err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ban records the ban and deactivates the membership atomically
func (r *GroupRepository) Ban(ctx context.Context, universe domain.Universe, ban *domain.Ban) error {
	t, err := tablesFor(universe)
	if err != nil {
		return err
	}

	tx, err := beginTx(ctx, r.pool)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ban.BannedAt = time.Now().UTC()
	_, err = tx.tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (group_id, user_id, banned_by, reason, banned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, user_id)
		DO UPDATE SET banned_by = excluded.banned_by, reason = excluded.reason, banned_at = excluded.banned_at
	`, t.bans), ban.GroupID, ban.UserID, ban.BannedBy, ban.Reason, ban.BannedAt)
	if err != nil {
		return fmt.Errorf("failed to record ban: %w", err)
	}

	_, err = tx.tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET is_active = false WHERE group_id = $1 AND user_id = $2
	`, t.members), ban.GroupID, ban.UserID)
	if err != nil {
		return fmt.Errorf("failed to deactivate member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ban: %w", err)
	}
	return nil
}

// IsBanned reports whether the user is banned from the group
func (r *GroupRepository) IsBanned(ctx context.Context, universe domain.Universe, groupID, userID uuid.UUID) (bool, error) {
	t, err := tablesFor(universe)
	if err != nil {
		return false, err
	}

	var banned bool
	err = r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM %s WHERE group_id = $1 AND user_id = $2)
	`, t.bans), groupID, userID).Scan(&banned)
	if err != nil {
		return false, fmt.Errorf("failed to check ban: %w", err)
	}
	return banned, nil
}
