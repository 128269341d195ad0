package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/climsite/tile-engine/internal/db"
)

var (
	// ErrNotFound is returned when a catalog row does not exist.
	ErrNotFound = eris.New("catalog: not found")
	// ErrDuplicateTime is returned when a (layer, time) pair is already
	// published.
	ErrDuplicateTime = eris.New("catalog: time already published for layer")
	// ErrLayerExists is returned when a second layer is added to a
	// single-layer dataset.
	ErrLayerExists = eris.New("catalog: dataset already has a layer")
)

// Store reads and writes catalog rows.
type Store struct {
	pool db.Pool
}

// NewStore creates a Store on the given pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ListCategories returns all categories with their sub-categories, ordered
// by position.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, position FROM catalog.categories ORDER BY position, id`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query categories")
	}
	defer rows.Close()

	var categories []Category
	byID := make(map[int]int)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Position); err != nil {
			return nil, eris.Wrap(err, "catalog: scan category")
		}
		byID[c.ID] = len(categories)
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: iterate categories")
	}
	rows.Close()

	subRows, err := s.pool.Query(ctx,
		`SELECT id, category_id, name, position FROM catalog.sub_categories ORDER BY position, id`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query sub-categories")
	}
	defer subRows.Close()

	for subRows.Next() {
		var sc SubCategory
		if err := subRows.Scan(&sc.ID, &sc.CategoryID, &sc.Name, &sc.Position); err != nil {
			return nil, eris.Wrap(err, "catalog: scan sub-category")
		}
		if i, ok := byID[sc.CategoryID]; ok {
			categories[i].SubCategories = append(categories[i].SubCategories, sc)
		}
	}
	return categories, subRows.Err()
}

// CreateCategory inserts a category.
func (s *Store) CreateCategory(ctx context.Context, name string, position int) (*Category, error) {
	c := Category{Name: name, Position: position}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO catalog.categories (name, position) VALUES ($1, $2) RETURNING id`,
		name, position,
	).Scan(&c.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: insert category %s", name)
	}
	return &c, nil
}

const datasetColumns = `id, title, summary, layer_type, category_id, sub_category_id,
	published, public, multi_temporal, multi_layer, near_real_time,
	current_time_method, auto_update_minutes, auto_update_url,
	auto_update_variable, created_at, updated_at`

func scanDataset(row pgx.Row) (*Dataset, error) {
	var d Dataset
	err := row.Scan(&d.ID, &d.Title, &d.Summary, &d.LayerType, &d.CategoryID,
		&d.SubCategoryID, &d.Published, &d.Public, &d.MultiTemporal,
		&d.MultiLayer, &d.NearRealTime, &d.CurrentTimeMethod,
		&d.AutoUpdateMinutes, &d.AutoUpdateURL, &d.AutoUpdateVariable,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDataset inserts a dataset, assigning its id and timestamps.
func (s *Store) CreateDataset(ctx context.Context, d *Dataset) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CurrentTimeMethod == "" {
		d.CurrentTimeMethod = CurrentTimeLatestFromSource
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO catalog.datasets (`+datasetColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		d.ID, d.Title, d.Summary, d.LayerType, d.CategoryID, d.SubCategoryID,
		d.Published, d.Public, d.MultiTemporal, d.MultiLayer, d.NearRealTime,
		d.CurrentTimeMethod, d.AutoUpdateMinutes, d.AutoUpdateURL,
		d.AutoUpdateVariable, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "catalog: insert dataset %s", d.Title)
	}
	return nil
}

// GetDataset returns one dataset by id.
func (s *Store) GetDataset(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	d, err := scanDataset(s.pool.QueryRow(ctx,
		`SELECT `+datasetColumns+` FROM catalog.datasets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get dataset %s", id)
	}
	return d, nil
}

// ListPublishedDatasets returns datasets that are both published and
// public, in creation order.
func (s *Store) ListPublishedDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+datasetColumns+` FROM catalog.datasets
		 WHERE published AND public ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query published datasets")
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "catalog: scan dataset")
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListAutoUpdateDatasets returns published datasets with an auto-update
// interval configured.
func (s *Store) ListAutoUpdateDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+datasetColumns+` FROM catalog.datasets
		 WHERE published AND auto_update_minutes IS NOT NULL AND auto_update_url <> ''
		 ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query auto-update datasets")
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "catalog: scan dataset")
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// SetDatasetPublished flips the published flag.
func (s *Store) SetDatasetPublished(ctx context.Context, id uuid.UUID, published bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog.datasets SET published = $1, updated_at = now() WHERE id = $2`,
		published, id)
	if err != nil {
		return eris.Wrapf(err, "catalog: update dataset %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dataset %s", id)
	}
	return nil
}
