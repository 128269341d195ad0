package catalog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

const layerColumns = `id, dataset_id, title, is_default, style_id, render_layers,
	wms_base_url, wms_layers, wms_styles, wms_version, wms_params`

func scanLayer(row pgx.Row) (*Layer, error) {
	var (
		l          Layer
		renderJSON []byte
		paramsJSON []byte
	)
	err := row.Scan(&l.ID, &l.DatasetID, &l.Title, &l.IsDefault, &l.StyleID,
		&renderJSON, &l.WMSBaseURL, &l.WMSLayers, &l.WMSStyles, &l.WMSVersion,
		&paramsJSON)
	if err != nil {
		return nil, err
	}
	if len(renderJSON) > 0 {
		if err := json.Unmarshal(renderJSON, &l.RenderLayers); err != nil {
			return nil, eris.Wrap(err, "catalog: decode render layers")
		}
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &l.WMSParams); err != nil {
			return nil, eris.Wrap(err, "catalog: decode wms params")
		}
	}
	return &l, nil
}

// CreateLayer inserts a layer. The dataset's multi_layer flag is mirrored
// onto the row so the partial unique index rejects a second layer on
// single-layer datasets without a prior read.
func (s *Store) CreateLayer(ctx context.Context, d *Dataset, l *Layer) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.DatasetID = d.ID

	renderJSON, err := json.Marshal(l.RenderLayers)
	if err != nil {
		return eris.Wrap(err, "catalog: encode render layers")
	}
	paramsJSON, err := json.Marshal(l.WMSParams)
	if err != nil {
		return eris.Wrap(err, "catalog: encode wms params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO catalog.layers (id, dataset_id, title, is_default, multi_layer,
			style_id, render_layers, wms_base_url, wms_layers, wms_styles,
			wms_version, wms_params)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.DatasetID, l.Title, l.IsDefault, d.MultiLayer, l.StyleID,
		renderJSON, l.WMSBaseURL, l.WMSLayers, l.WMSStyles, l.WMSVersion,
		paramsJSON)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrLayerExists, "dataset %s", d.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "catalog: insert layer %s", l.Title)
	}
	return nil
}

// GetLayer returns one layer by id.
func (s *Store) GetLayer(ctx context.Context, id uuid.UUID) (*Layer, error) {
	l, err := scanLayer(s.pool.QueryRow(ctx,
		`SELECT `+layerColumns+` FROM catalog.layers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "layer %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get layer %s", id)
	}
	return l, nil
}

// ListLayers returns a dataset's layers, default first.
func (s *Store) ListLayers(ctx context.Context, datasetID uuid.UUID) ([]Layer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+layerColumns+` FROM catalog.layers
		 WHERE dataset_id = $1 ORDER BY is_default DESC, created_at`, datasetID)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: query layers for %s", datasetID)
	}
	defer rows.Close()

	var out []Layer
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "catalog: scan layer")
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// DefaultLayer returns the dataset's default layer, falling back to its
// oldest layer.
func (s *Store) DefaultLayer(ctx context.Context, datasetID uuid.UUID) (*Layer, error) {
	l, err := scanLayer(s.pool.QueryRow(ctx,
		`SELECT `+layerColumns+` FROM catalog.layers
		 WHERE dataset_id = $1 ORDER BY is_default DESC, created_at LIMIT 1`, datasetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "default layer for dataset %s", datasetID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get default layer for %s", datasetID)
	}
	return l, nil
}
