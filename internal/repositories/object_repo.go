package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/boardsync/internal/models"
)

// PostgresObjectRepository persists board objects in the board_objects table.
// Properties lives in a jsonb column; partial updates merge it with the ||
// operator so keys not named in the patch survive, matching the in-memory
// merge semantics exactly.
type PostgresObjectRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresObjectRepository(pool *pgxpool.Pool) *PostgresObjectRepository {
	return &PostgresObjectRepository{pool: pool}
}

func (r *PostgresObjectRepository) List(ctx context.Context, boardID uuid.UUID) ([]*models.WhiteboardObject, error) {
	query := `SELECT id, board_id, object_type, x, y, width, height, rotation, properties, updated_by, updated_at, version, created_at
	          FROM board_objects
	          WHERE board_id = $1
	          ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query board objects: %w", err)
	}
	defer rows.Close()

	var objects []*models.WhiteboardObject
	for rows.Next() {
		var obj models.WhiteboardObject
		var props []byte
		err := rows.Scan(
			&obj.ID,
			&obj.BoardID,
			&obj.ObjectType,
			&obj.X,
			&obj.Y,
			&obj.Width,
			&obj.Height,
			&obj.Rotation,
			&props,
			&obj.UpdatedBy,
			&obj.UpdatedAt,
			&obj.Version,
			&obj.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board object: %w", err)
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &obj.Properties); err != nil {
				return nil, fmt.Errorf("failed to unmarshal properties for %s: %w", obj.ID, err)
			}
		}
		objects = append(objects, &obj)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating board objects: %w", err)
	}
	return objects, nil
}

func (r *PostgresObjectRepository) Insert(ctx context.Context, obj *models.WhiteboardObject) error {
	props, err := json.Marshal(obj.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	// Upsert: a create normally inserts, but an undo that resurrects a
	// deleted object (or restores an overwritten one) reuses the same path.
	query := `INSERT INTO board_objects (id, board_id, object_type, x, y, width, height, rotation, properties, updated_by, updated_at, version, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	          ON CONFLICT (id) DO UPDATE
	          SET x = EXCLUDED.x,
	              y = EXCLUDED.y,
	              width = EXCLUDED.width,
	              height = EXCLUDED.height,
	              rotation = EXCLUDED.rotation,
	              properties = EXCLUDED.properties,
	              updated_by = EXCLUDED.updated_by,
	              updated_at = EXCLUDED.updated_at,
	              version = EXCLUDED.version`

	_, err = r.pool.Exec(ctx, query,
		obj.ID,
		obj.BoardID,
		obj.ObjectType,
		obj.X,
		obj.Y,
		obj.Width,
		obj.Height,
		obj.Rotation,
		props,
		obj.UpdatedBy,
		obj.UpdatedAt,
		obj.Version,
		obj.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert board object: %w", err)
	}
	return nil
}

// Update builds a SET list from the populated patch fields. Version increments
// in SQL and comes back so callers can observe what the store committed.
func (r *PostgresObjectRepository) Update(ctx context.Context, id uuid.UUID, patch models.ObjectPatch) (int64, error) {
	sets := []string{"version = version + 1"}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.X != nil {
		add("x", *patch.X)
	}
	if patch.Y != nil {
		add("y", *patch.Y)
	}
	if patch.Width != nil {
		add("width", *patch.Width)
	}
	if patch.Height != nil {
		add("height", *patch.Height)
	}
	if patch.Rotation != nil {
		add("rotation", *patch.Rotation)
	}
	if len(patch.Properties) > 0 {
		props, err := json.Marshal(patch.Properties)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal properties: %w", err)
		}
		args = append(args, props)
		// jsonb || merges one level deep: exactly the in-memory semantics.
		sets = append(sets, fmt.Sprintf("properties = COALESCE(properties, '{}'::jsonb) || $%d::jsonb", len(args)))
	}
	if patch.UpdatedBy != uuid.Nil {
		add("updated_by", patch.UpdatedBy)
	}
	if !patch.UpdatedAt.IsZero() {
		add("updated_at", patch.UpdatedAt)
	}

	query := fmt.Sprintf(`UPDATE board_objects SET %s WHERE id = $1 RETURNING version`, strings.Join(sets, ", "))

	var newVersion int64
	err := r.pool.QueryRow(ctx, query, args...).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update board object: %w", err)
	}
	return newVersion, nil
}

func (r *PostgresObjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM board_objects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete board object: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMany removes a whole selection in one statement.
func (r *PostgresObjectRepository) DeleteMany(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM board_objects WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to delete board objects: %w", err)
	}
	return nil
}

// BatchUpdate persists a multi-object drag release in a single transaction.
// Unknown ids are skipped, matching the in-memory no-op semantics.
func (r *PostgresObjectRepository) BatchUpdate(ctx context.Context, patches map[uuid.UUID]models.ObjectPatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch update: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for id, patch := range patches {
		query := `UPDATE board_objects
		          SET x = COALESCE($2, x),
		              y = COALESCE($3, y),
		              width = COALESCE($4, width),
		              height = COALESCE($5, height),
		              rotation = COALESCE($6, rotation),
		              updated_by = $7,
		              updated_at = $8,
		              version = version + 1
		          WHERE id = $1`
		batch.Queue(query, id, patch.X, patch.Y, patch.Width, patch.Height, patch.Rotation, patch.UpdatedBy, patch.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to run batch update: %w", err)
	}
	return tx.Commit(ctx)
}
