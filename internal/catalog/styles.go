package catalog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/climsite/tile-engine/internal/style"
)

const styleColumns = `id, name, min, max, steps, palette, use_custom_colors,
	custom_rows, rest_color, created_at, updated_at`

func scanStyle(row pgx.Row) (*style.RasterStyle, error) {
	var (
		s        style.RasterStyle
		rowsJSON []byte
	)
	err := row.Scan(&s.ID, &s.Name, &s.Min, &s.Max, &s.Steps, &s.Palette,
		&s.UseCustomColors, &rowsJSON, &s.RestColor, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(rowsJSON) > 0 {
		if err := json.Unmarshal(rowsJSON, &s.CustomRows); err != nil {
			return nil, eris.Wrap(err, "catalog: decode style rows")
		}
	}
	return &s, nil
}

// CreateStyle validates and inserts a raster style.
func (s *Store) CreateStyle(ctx context.Context, rs *style.RasterStyle) error {
	if err := rs.Validate(); err != nil {
		return err
	}

	rowsJSON, err := json.Marshal(rs.CustomRows)
	if err != nil {
		return eris.Wrap(err, "catalog: encode style rows")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO catalog.raster_styles
			(name, min, max, steps, palette, use_custom_colors, custom_rows, rest_color)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		rs.Name, rs.Min, rs.Max, rs.Steps, rs.Palette, rs.UseCustomColors,
		rowsJSON, rs.RestColor,
	).Scan(&rs.ID, &rs.CreatedAt, &rs.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "catalog: insert style %s", rs.Name)
	}
	return nil
}

// GetStyle returns one style by id.
func (s *Store) GetStyle(ctx context.Context, id int) (*style.RasterStyle, error) {
	rs, err := scanStyle(s.pool.QueryRow(ctx,
		`SELECT `+styleColumns+` FROM catalog.raster_styles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "style %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get style %d", id)
	}
	return rs, nil
}

// GetStyleByName returns one style by its unique name.
func (s *Store) GetStyleByName(ctx context.Context, name string) (*style.RasterStyle, error) {
	rs, err := scanStyle(s.pool.QueryRow(ctx,
		`SELECT `+styleColumns+` FROM catalog.raster_styles WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "style %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get style %s", name)
	}
	return rs, nil
}

// UpdateStyleRows replaces a style's custom threshold rows.
func (s *Store) UpdateStyleRows(ctx context.Context, id int, rows []style.ThresholdRow) error {
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return eris.Wrap(err, "catalog: encode style rows")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog.raster_styles
		 SET custom_rows = $1, use_custom_colors = TRUE, updated_at = now()
		 WHERE id = $2`,
		rowsJSON, id)
	if err != nil {
		return eris.Wrapf(err, "catalog: update style %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "style %d", id)
	}
	return nil
}
