package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS availability_windows (
    id              TEXT PRIMARY KEY,
    practitioner_id TEXT    NOT NULL,
    day_of_week     INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
    start_minute    INTEGER NOT NULL CHECK (start_minute BETWEEN 0 AND 1440),
    end_minute      INTEGER NOT NULL CHECK (end_minute BETWEEN 0 AND 1440),
    created_at      TEXT    NOT NULL,
    updated_at      TEXT    NOT NULL,
    CHECK (start_minute < end_minute)
);

CREATE INDEX IF NOT EXISTS availability_windows_practitioner_idx
    ON availability_windows (practitioner_id, day_of_week, start_minute);

CREATE TABLE IF NOT EXISTS appointments (
    id               TEXT PRIMARY KEY,
    patient_id       TEXT    NOT NULL,
    practitioner_id  TEXT    NOT NULL,
    appointment_date TEXT    NOT NULL,
    start_minute     INTEGER NOT NULL CHECK (start_minute BETWEEN 0 AND 1439),
    reason           TEXT    NOT NULL DEFAULT '',
    attachment_ref   TEXT,
    status           TEXT    NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'completed', 'cancelled')),
    created_by       TEXT    NOT NULL,
    created_at       TEXT    NOT NULL,
    updated_at       TEXT    NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS appointments_live_slot_uq
    ON appointments (practitioner_id, appointment_date, start_minute)
    WHERE status NOT IN ('rejected', 'cancelled');

CREATE INDEX IF NOT EXISTS appointments_patient_idx
    ON appointments (patient_id, appointment_date, start_minute);

CREATE TABLE IF NOT EXISTS outbox_events (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    kind           TEXT NOT NULL,
    appointment_id TEXT REFERENCES appointments (id),
    payload        TEXT NOT NULL,
    created_at     TEXT NOT NULL,
    published_at   TEXT
);
`

const (
	windowColumns      = `id, practitioner_id, day_of_week, start_minute, end_minute, created_at, updated_at`
	appointmentColumns = `id, patient_id, practitioner_id, appointment_date, start_minute, reason, attachment_ref, status, created_by, created_at, updated_at`
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the embedded store used for local runs and tests. The
// database must be opened with a single connection.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the schema if needed and returns the store.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
}

func (s *SQLiteStore) WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx AvailabilityTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin availability tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, sqliteAvailabilityTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit availability tx", err)
	}
	return nil
}

func (s *SQLiteStore) GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	return sqliteAvailabilityTx{q: s.db}.GetWindow(ctx, id)
}

func (s *SQLiteStore) ListWindows(ctx context.Context, practitionerID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE practitioner_id = ?
		ORDER BY day_of_week, start_minute
	`, practitionerID.String())
	if err != nil {
		return nil, storageErr("list windows", err)
	}
	return collectSQLiteWindows(rows)
}

func (s *SQLiteStore) ListWindowsForDay(ctx context.Context, practitionerID uuid.UUID, day Weekday) ([]AvailabilityWindow, error) {
	return sqliteAvailabilityTx{q: s.db}.ListWindowsForDay(ctx, practitionerID, day)
}

type sqliteAvailabilityTx struct {
	q sqlQuerier
}

func (t sqliteAvailabilityTx) GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+windowColumns+` FROM availability_windows WHERE id = ?`, id.String())
	w, err := scanSQLiteWindow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, storageErr("get window", err)
	}
	return w, nil
}

func (t sqliteAvailabilityTx) ListWindowsForDay(ctx context.Context, practitionerID uuid.UUID, day Weekday) ([]AvailabilityWindow, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE practitioner_id = ? AND day_of_week = ?
		ORDER BY start_minute
	`, practitionerID.String(), int(day))
	if err != nil {
		return nil, storageErr("list windows for day", err)
	}
	return collectSQLiteWindows(rows)
}

func (t sqliteAvailabilityTx) InsertWindow(ctx context.Context, w *AvailabilityWindow) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO availability_windows (`+windowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID.String(), w.PractitionerID.String(), int(w.Day), int(w.Start), int(w.End), formatTS(w.CreatedAt), formatTS(w.UpdatedAt))
	return storageErr("insert window", err)
}

func (t sqliteAvailabilityTx) UpdateWindow(ctx context.Context, w *AvailabilityWindow) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE availability_windows
		SET day_of_week = ?, start_minute = ?, end_minute = ?, updated_at = ?
		WHERE id = ?
	`, int(w.Day), int(w.Start), int(w.End), formatTS(w.UpdatedAt), w.ID.String())
	if err != nil {
		return storageErr("update window", err)
	}
	return requireOneRow(res, ErrWindowNotFound)
}

func (t sqliteAvailabilityTx) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM availability_windows WHERE id = ?`, id.String())
	if err != nil {
		return storageErr("delete window", err)
	}
	return requireOneRow(res, ErrWindowNotFound)
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteWindow(row sqlScanner) (*AvailabilityWindow, error) {
	var (
		w                  AvailabilityWindow
		id, practitionerID string
		day, start, end    int
		created, updated   string
	)
	if err := row.Scan(&id, &practitionerID, &day, &start, &end, &created, &updated); err != nil {
		return nil, err
	}

	var err error
	if w.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if w.PractitionerID, err = uuid.Parse(practitionerID); err != nil {
		return nil, err
	}
	if w.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, err
	}
	w.Day = Weekday(day)
	w.Start = TimeOfDay(start)
	w.End = TimeOfDay(end)
	return &w, nil
}

func collectSQLiteWindows(rows *sql.Rows) ([]AvailabilityWindow, error) {
	defer rows.Close()

	windows := []AvailabilityWindow{}
	for rows.Next() {
		w, err := scanSQLiteWindow(rows)
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

func scanSQLiteAppointment(row sqlScanner) (*Appointment, error) {
	var (
		a                                      Appointment
		id, patientID, practitionerID, created string
		date, status, createdBy, updated       string
		start                                  int
		attachment                             sql.NullString
	)
	if err := row.Scan(&id, &patientID, &practitionerID, &date, &start, &a.Reason, &attachment, &status, &createdBy, &created, &updated); err != nil {
		return nil, err
	}

	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if a.PatientID, err = uuid.Parse(patientID); err != nil {
		return nil, err
	}
	if a.PractitionerID, err = uuid.Parse(practitionerID); err != nil {
		return nil, err
	}
	if a.CreatedBy, err = uuid.Parse(createdBy); err != nil {
		return nil, err
	}
	if a.Date, err = ParseDate(date); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, err
	}
	if attachment.Valid {
		ref := attachment.String
		a.AttachmentRef = &ref
	}
	a.Time = TimeOfDay(start)
	a.Status = Status(status)
	return &a, nil
}

func collectSQLiteAppointments(rows *sql.Rows) ([]Appointment, error) {
	defer rows.Close()

	appts := []Appointment{}
	for rows.Next() {
		a, err := scanSQLiteAppointment(rows)
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

func insertSQLiteEvents(ctx context.Context, q sqlQuerier, events []Event) error {
	for _, ev := range events {
		var apptID any
		if ev.AppointmentID != nil {
			apptID = ev.AppointmentID.String()
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO outbox_events (kind, appointment_id, payload, created_at)
			VALUES (?, ?, ?, ?)
		`, string(ev.Kind), apptID, string(ev.Payload), formatTS(ev.CreatedAt))
		if err != nil {
			return storageErr("insert outbox event", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateAppointment(ctx context.Context, a *Appointment, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin create appointment", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID.String(), a.PatientID.String(), a.PractitionerID.String(),
		a.DateString(), int(a.Time), a.Reason, a.AttachmentRef, string(a.Status),
		a.CreatedBy.String(), formatTS(a.CreatedAt), formatTS(a.UpdatedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrSlotTaken
		}
		return storageErr("insert appointment", err)
	}

	if err := insertSQLiteEvents(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit create appointment", err)
	}
	return nil
}

func (s *SQLiteStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id.String())
	a, err := scanSQLiteAppointment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storageErr("get appointment", err)
	}
	return a, nil
}

func (s *SQLiteStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time, events []Event) (*Appointment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin status update", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
		UPDATE appointments
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING `+appointmentColumns,
		string(to), formatTS(at), id.String(), string(from),
	)
	a, err := scanSQLiteAppointment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists int
			if qerr := tx.QueryRowContext(ctx, `SELECT 1 FROM appointments WHERE id = ?`, id.String()).Scan(&exists); qerr != nil {
				if errors.Is(qerr, sql.ErrNoRows) {
					return nil, ErrAppointmentNotFound
				}
				return nil, storageErr("check appointment", qerr)
			}
			return nil, ErrInvalidTransition
		}
		return nil, storageErr("update appointment status", err)
	}

	if err := insertSQLiteEvents(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit status update", err)
	}
	return a, nil
}

func (s *SQLiteStore) LiveTimes(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]TimeOfDay, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_minute
		FROM appointments
		WHERE practitioner_id = ? AND appointment_date = ? AND status NOT IN ('rejected', 'cancelled')
		ORDER BY start_minute
	`, practitionerID.String(), date.Format(DateLayout))
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

func (s *SQLiteStore) ListByPatient(ctx context.Context, patientID uuid.UUID, scope ListScope, today time.Time, limit, offset int) ([]Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE patient_id = ?`
	args := []any{patientID.String()}

	switch scope {
	case ScopeUpcoming:
		query += ` AND appointment_date >= ? ORDER BY appointment_date, start_minute`
		args = append(args, today.Format(DateLayout))
	case ScopePast:
		query += ` AND appointment_date < ? ORDER BY appointment_date DESC, start_minute DESC`
		args = append(args, today.Format(DateLayout))
	default:
		query += ` ORDER BY appointment_date, start_minute`
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list patient appointments", err)
	}
	return collectSQLiteAppointments(rows)
}

func (s *SQLiteStore) ListByPractitionerOnDate(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = ? AND appointment_date = ?
		ORDER BY start_minute, created_at
	`, practitionerID.String(), date.Format(DateLayout))
	if err != nil {
		return nil, storageErr("list practitioner appointments", err)
	}
	return collectSQLiteAppointments(rows)
}

func (s *SQLiteStore) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, appointment_id, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, storageErr("pending events", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev      Event
			kind    string
			apptID  sql.NullString
			payload string
			created string
		)
		if err := rows.Scan(&ev.ID, &kind, &apptID, &payload, &created); err != nil {
			return nil, storageErr("scan event", err)
		}
		if apptID.Valid {
			id, err := uuid.Parse(apptID.String)
			if err != nil {
				return nil, storageErr("scan event", err)
			}
			ev.AppointmentID = &id
		}
		if ev.CreatedAt, err = parseTS(created); err != nil {
			return nil, storageErr("scan event", err)
		}
		ev.Kind = EventKind(kind)
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate events", err)
	}
	return events, nil
}

func (s *SQLiteStore) MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTS(at))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET published_at = ?
		WHERE published_at IS NULL AND id IN (`+placeholders+`)
	`, args...)
	return storageErr("mark events published", err)
}
