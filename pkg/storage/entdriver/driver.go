// Package entdriver implements storage.Driver on ent's SQL dialect layer so
// SQLite and PostgreSQL share one set of queries.
package entdriver

import (
	"context"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/chatty/pkg/storage"
)

const table = "idle_state"

var columns = []string{"user_id", "platform", "handle", "last_activity_at", "last_proactive_at"}

// EntDriver provides idle state operations over an ent SQL driver.
type EntDriver struct {
	DB *entsql.Driver
}

// New wraps drv and creates the idle_state table with the given DDL.
func New(ctx context.Context, drv *entsql.Driver, schema string) (*EntDriver, error) {
	if err := drv.Exec(ctx, schema, []any{}, nil); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &EntDriver{DB: drv}, nil
}

func (d *EntDriver) builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.DB.Dialect())
}

func (d *EntDriver) Load(ctx context.Context, userID, platform string) (storage.IdleState, error) {
	query, args := d.builder().
		Select(columns...).
		From(entsql.Table(table)).
		Where(entsql.And(entsql.EQ("user_id", userID), entsql.EQ("platform", platform))).
		Query()

	states, err := d.query(ctx, query, args)
	if err != nil {
		return storage.IdleState{}, fmt.Errorf("%w: loading idle state: %v", storage.ErrUnavailable, err)
	}
	if len(states) == 0 {
		return storage.IdleState{}, storage.NotFoundError{UserID: userID, Platform: platform}
	}
	return states[0], nil
}

func (d *EntDriver) Save(ctx context.Context, state storage.IdleState) error {
	if state.UserID == "" {
		return errors.New("cannot store idle state without a user id")
	}

	query, args := d.builder().
		Insert(table).
		Columns(columns...).
		Values(
			state.UserID, state.Platform, state.Handle,
			storage.ToUnixNano(state.LastActivityAt), storage.ToUnixNano(state.LastProactiveAt),
		).
		OnConflict(
			entsql.ConflictColumns("user_id", "platform"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	if err := d.DB.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("%w: saving idle state: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (d *EntDriver) Delete(ctx context.Context, userID string) error {
	query, args := d.builder().
		Delete(table).
		Where(entsql.EQ("user_id", userID)).
		Query()

	if err := d.DB.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("%w: deleting idle state: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (d *EntDriver) List(ctx context.Context) ([]storage.IdleState, error) {
	query, args := d.builder().
		Select(columns...).
		From(entsql.Table(table)).
		OrderBy("platform", "user_id").
		Query()

	states, err := d.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("%w: listing idle state: %v", storage.ErrUnavailable, err)
	}
	return states, nil
}

// Close closes the underlying database.
func (d *EntDriver) Close() error {
	return d.DB.Close()
}

func (d *EntDriver) query(ctx context.Context, query string, args []any) ([]storage.IdleState, error) {
	var rows entsql.Rows
	if err := d.DB.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.IdleState{}
	for rows.Next() {
		var (
			state               storage.IdleState
			activity, proactive int64
		)
		if err := rows.Scan(&state.UserID, &state.Platform, &state.Handle, &activity, &proactive); err != nil {
			return nil, fmt.Errorf("scanning idle state: %w", err)
		}
		state.LastActivityAt = storage.FromUnixNano(activity)
		state.LastProactiveAt = storage.FromUnixNano(proactive)
		out = append(out, state)
	}
	return out, rows.Err()
}
