package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// pgQuerier is satisfied by both the pool and a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Helpers

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var day, start, end int

	err := row.Scan(
		&w.ID,
		&w.PractitionerID,
		&day,
		&start,
		&end,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	w.Day = Weekday(day)
	w.Start = TimeOfDay(start)
	w.End = TimeOfDay(end)
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start int
	var status string
	var attachment *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.Date,
		&start,
		&a.Reason,
		&attachment,
		&status,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = DateOf(a.Date)
	a.Time = TimeOfDay(start)
	a.Status = Status(status)
	a.AttachmentRef = attachment
	return &a, nil
}

func collectWindows(rows pgx.Rows) ([]AvailabilityWindow, error) {
	defer rows.Close()

	windows := []AvailabilityWindow{}
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, storageErr("scan window", err)
		}
		windows = append(windows, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate windows", err)
	}
	return windows, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	appts := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, storageErr("scan appointment", err)
		}
		appts = append(appts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate appointments", err)
	}
	return appts, nil
}

// Availability

// WithPractitionerLock takes a transaction-scoped advisory lock keyed on the
// practitioner, so overlap checks and writes for one practitioner never interleave.
func (r *PgRepository) WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx AvailabilityTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin availability tx", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "availability:"+practitionerID.String()); err != nil {
		return storageErr("advisory lock", err)
	}

	if err := fn(ctx, pgAvailabilityTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if pgErrCode(err) == pgExclusionViolation {
			return ErrOverlap
		}
		return storageErr("commit availability tx", err)
	}
	return nil
}

func (r *PgRepository) GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	return pgAvailabilityTx{q: r.pool}.GetWindow(ctx, id)
}

func (r *PgRepository) ListWindows(ctx context.Context, practitionerID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, practitioner_id, day_of_week, start_minute, end_minute, created_at, updated_at
		FROM availability_windows
		WHERE practitioner_id = $1
		ORDER BY day_of_week, start_minute
	`, practitionerID)
	if err != nil {
		return nil, storageErr("list windows", err)
	}
	return collectWindows(rows)
}

func (r *PgRepository) ListWindowsForDay(ctx context.Context, practitionerID uuid.UUID, day Weekday) ([]AvailabilityWindow, error) {
	return pgAvailabilityTx{q: r.pool}.ListWindowsForDay(ctx, practitionerID, day)
}

type pgAvailabilityTx struct {
	q pgQuerier
}

func (t pgAvailabilityTx) GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := t.q.QueryRow(ctx, `
		SELECT id, practitioner_id, day_of_week, start_minute, end_minute, created_at, updated_at
		FROM availability_windows
		WHERE id = $1
	`, id)
	w, err := scanWindow(row)
	if err != nil && !errors.Is(err, ErrWindowNotFound) {
		return nil, storageErr("get window", err)
	}
	return w, err
}

func (t pgAvailabilityTx) ListWindowsForDay(ctx context.Context, practitionerID uuid.UUID, day Weekday) ([]AvailabilityWindow, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, practitioner_id, day_of_week, start_minute, end_minute, created_at, updated_at
		FROM availability_windows
		WHERE practitioner_id = $1 AND day_of_week = $2
		ORDER BY start_minute
	`, practitionerID, int(day))
	if err != nil {
		return nil, storageErr("list windows for day", err)
	}
	return collectWindows(rows)
}

func (t pgAvailabilityTx) InsertWindow(ctx context.Context, w *AvailabilityWindow) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO availability_windows (id, practitioner_id, day_of_week, start_minute, end_minute, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, w.ID, w.PractitionerID, int(w.Day), int(w.Start), int(w.End), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if pgErrCode(err) == pgExclusionViolation {
			return ErrOverlap
		}
		return storageErr("insert window", err)
	}
	return nil
}

func (t pgAvailabilityTx) UpdateWindow(ctx context.Context, w *AvailabilityWindow) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE availability_windows
		SET day_of_week = $2, start_minute = $3, end_minute = $4, updated_at = $5
		WHERE id = $1
	`, w.ID, int(w.Day), int(w.Start), int(w.End), w.UpdatedAt)
	if err != nil {
		if pgErrCode(err) == pgExclusionViolation {
			return ErrOverlap
		}
		return storageErr("update window", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

func (t pgAvailabilityTx) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete window", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

// Appointments

func insertEvents(ctx context.Context, q pgQuerier, events []Event) error {
	for _, ev := range events {
		_, err := q.Exec(ctx, `
			INSERT INTO outbox_events (kind, appointment_id, payload, created_at)
			VALUES ($1, $2, $3, $4)
		`, string(ev.Kind), ev.AppointmentID, ev.Payload, ev.CreatedAt)
		if err != nil {
			return storageErr("insert outbox event", err)
		}
	}
	return nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment, events []Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin create appointment", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, practitioner_id, appointment_date, start_minute,
			reason, attachment_ref, status, created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		a.ID, a.PatientID, a.PractitionerID, a.Date, int(a.Time),
		a.Reason, a.AttachmentRef, string(a.Status), a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return ErrSlotTaken
		}
		return storageErr("insert appointment", err)
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit create appointment", err)
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, practitioner_id, appointment_date, start_minute,
		       reason, attachment_ref, status, created_by, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, storageErr("get appointment", err)
	}
	return a, err
}

// UpdateAppointmentStatus is a compare-and-set on status; the outbox rows
// commit with it or not at all.
func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time, events []Event) (*Appointment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storageErr("begin status update", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING id, patient_id, practitioner_id, appointment_date, start_minute,
		          reason, attachment_ref, status, created_by, created_at, updated_at
	`, id, string(from), string(to), at)

	a, err := scanAppointment(row)
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, storageErr("update appointment status", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, storageErr("check appointment", err)
		}
		if !exists {
			return nil, ErrAppointmentNotFound
		}
		return nil, ErrInvalidTransition
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit status update", err)
	}
	return a, nil
}

func (r *PgRepository) LiveTimes(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]TimeOfDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_minute
		FROM appointments
		WHERE practitioner_id = $1
		  AND appointment_date = $2
		  AND status NOT IN ('rejected', 'cancelled')
		ORDER BY start_minute
	`, practitionerID, date)
	if err != nil {
		return nil, storageErr("live times", err)
	}
	defer rows.Close()

	var times []TimeOfDay
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return nil, storageErr("scan live time", err)
		}
		times = append(times, TimeOfDay(m))
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate live times", err)
	}
	return times, nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, scope ListScope, today time.Time, limit, offset int) ([]Appointment, error) {
	var filter, order string
	switch scope {
	case ScopeUpcoming:
		filter = `AND appointment_date >= $2`
		order = `appointment_date, start_minute`
	case ScopePast:
		filter = `AND appointment_date < $2`
		order = `appointment_date DESC, start_minute DESC`
	default:
		filter = `AND $2::date IS NOT NULL`
		order = `appointment_date, start_minute`
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, practitioner_id, appointment_date, start_minute,
		       reason, attachment_ref, status, created_by, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1 `+filter+`
		ORDER BY `+order+`
		LIMIT $3 OFFSET $4
	`, patientID, today, limit, offset)
	if err != nil {
		return nil, storageErr("list patient appointments", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPractitionerOnDate(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, practitioner_id, appointment_date, start_minute,
		       reason, attachment_ref, status, created_by, created_at, updated_at
		FROM appointments
		WHERE practitioner_id = $1 AND appointment_date = $2
		ORDER BY start_minute, created_at
	`, practitionerID, date)
	if err != nil {
		return nil, storageErr("list practitioner appointments", err)
	}
	return collectAppointments(rows)
}

// Outbox

func (r *PgRepository) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, appointment_id, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storageErr("pending events", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var kind string
		if err := rows.Scan(&ev.ID, &kind, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, storageErr("scan event", err)
		}
		ev.Kind = EventKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate events", err)
	}
	return events, nil
}

func (r *PgRepository) MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = $2
		WHERE id = ANY($1) AND published_at IS NULL
	`, ids, at)
	return storageErr("mark events published", err)
}
