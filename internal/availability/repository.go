package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wellmind-health/therapy-platform/internal/booking"
)

type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists weekly templates as one row per (therapist, weekday,
// start time). Overwrite semantics: a replace deletes the old template inside
// the same transaction that writes the new one.
type Repository struct {
	pool querier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("availability: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("availability: querier required")
	}
	return &Repository{pool: q}
}

// ReplaceTemplate swaps the therapist's whole weekly template atomically.
func (r *Repository) ReplaceTemplate(ctx context.Context, therapistID uuid.UUID, days map[time.Weekday][]SlotDefinition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("availability: begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM weekly_template_slots WHERE therapist_id = $1`, therapistID); err != nil {
		return fmt.Errorf("availability: clear template: %w", err)
	}

	for weekday, slots := range days {
		for _, slot := range slots {
			modes := make([]string, len(slot.Modes))
			for i, m := range slot.Modes {
				modes[i] = string(m)
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO weekly_template_slots (therapist_id, weekday, start_time, modes, price_cents)
				VALUES ($1, $2, $3, $4, $5)
			`, therapistID, int(weekday), slot.StartTime, modes, slot.PriceCents)
			if err != nil {
				return fmt.Errorf("availability: insert template slot: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("availability: commit replace: %w", err)
	}
	return nil
}

// GetTemplate loads the full weekly template for a therapist.
func (r *Repository) GetTemplate(ctx context.Context, therapistID uuid.UUID) (*WeeklyTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_time, modes, price_cents
		FROM weekly_template_slots
		WHERE therapist_id = $1
		ORDER BY weekday, start_time
	`, therapistID)
	if err != nil {
		return nil, fmt.Errorf("availability: load template: %w", err)
	}
	defer rows.Close()

	tpl := &WeeklyTemplate{
		TherapistID: therapistID,
		Days:        make(map[time.Weekday][]SlotDefinition),
	}
	found := false
	for rows.Next() {
		var weekday int
		var slot SlotDefinition
		var modes []string
		if err := rows.Scan(&weekday, &slot.StartTime, &modes, &slot.PriceCents); err != nil {
			return nil, fmt.Errorf("availability: scan template slot: %w", err)
		}
		slot.Modes = make([]booking.Mode, len(modes))
		for i, m := range modes {
			slot.Modes[i] = booking.Mode(m)
		}
		day := time.Weekday(weekday)
		tpl.Days[day] = append(tpl.Days[day], slot)
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("availability: iterate template: %w", err)
	}
	if !found {
		return nil, ErrTemplateNotFound
	}
	return tpl, nil
}

// DaySlots loads the template entries for one weekday only.
func (r *Repository) DaySlots(ctx context.Context, therapistID uuid.UUID, weekday time.Weekday) ([]SlotDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, modes, price_cents
		FROM weekly_template_slots
		WHERE therapist_id = $1 AND weekday = $2
		ORDER BY start_time
	`, therapistID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("availability: load day slots: %w", err)
	}
	defer rows.Close()

	var slots []SlotDefinition
	for rows.Next() {
		var slot SlotDefinition
		var modes []string
		if err := rows.Scan(&slot.StartTime, &modes, &slot.PriceCents); err != nil {
			return nil, fmt.Errorf("availability: scan day slot: %w", err)
		}
		slot.Modes = make([]booking.Mode, len(modes))
		for i, m := range modes {
			slot.Modes[i] = booking.Mode(m)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}
