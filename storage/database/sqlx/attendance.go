package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
)

const recordColumns = `r.id, r.group_id, to_char(r.date, 'YYYY-MM-DD') AS date, r.present, r.late, r.absent,
	r.excused, r.is_finalized, r.finalized_at, r.version, r.created_at`

var recordOrderings = map[string]string{
	"date":       "r.date",
	"created_at": "r.created_at",
	"center":     "g.center",
}

type recordRow struct {
	ID          string         `db:"id"`
	GroupID     string         `db:"group_id"`
	Date        string         `db:"date"`
	Present     pq.StringArray `db:"present"`
	Late        pq.StringArray `db:"late"`
	Absent      pq.StringArray `db:"absent"`
	Excused     pq.StringArray `db:"excused"`
	IsFinalized bool           `db:"is_finalized"`
	FinalizedAt null.Time      `db:"finalized_at"`
	Version     int            `db:"version"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (row recordRow) unpack() attendance.Record {
	return attendance.Record{
		ID:          row.ID,
		GroupID:     row.GroupID,
		Date:        core.Date(row.Date),
		Present:     attendance.SetOf(row.Present...),
		Late:        attendance.SetOf(row.Late...),
		Absent:      attendance.SetOf(row.Absent...),
		Excused:     attendance.SetOf(row.Excused...),
		IsFinalized: row.IsFinalized,
		FinalizedAt: row.FinalizedAt,
		Version:     row.Version,
		CreatedAt:   row.CreatedAt.UTC(),
	}
}

type recordRepository struct {
	db core.DB
}

var _ attendance.RecordRepository = (*recordRepository)(nil) // interface compliance check

func NewRecordRepository(db core.DB) attendance.RecordRepository {
	return &recordRepository{db: db}
}

func (repo *recordRepository) GetRecord(ctx context.Context, groupID string, date core.Date) (attendance.Record, error) {
	var row recordRow
	q := `SELECT ` + recordColumns + ` FROM attendance_records r WHERE r.group_id = $1 AND r.date = $2`
	if err := repo.db.GetContext(ctx, &row, q, groupID, string(date)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Record{}, attendance.ErrNoRecord
		}
		return attendance.Record{}, errors.Wrap(err, "selecting attendance record")
	}
	return row.unpack(), nil
}

func (repo *recordRepository) GetOrCreateRecord(ctx context.Context, groupID string, date core.Date) (attendance.Record, error) {
	r := attendance.NewRecord(groupID, date)
	q := `INSERT INTO attendance_records (id, group_id, date, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, date) DO NOTHING`
	if _, err := repo.db.ExecContext(ctx, q, r.ID, r.GroupID, string(r.Date), r.CreatedAt); err != nil {
		return attendance.Record{}, errors.Wrap(err, "inserting attendance record")
	}
	return repo.GetRecord(ctx, groupID, date)
}

func (repo *recordRepository) SaveRecord(ctx context.Context, r attendance.Record) (attendance.Record, error) {
	q := `UPDATE attendance_records SET present = $3, late = $4, absent = $5, excused = $6, is_finalized = $7,
			finalized_at = $8, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`
	var version int
	err := repo.db.GetContext(ctx, &version, q,
		r.ID, r.Version,
		pq.StringArray(r.Present.Sorted()), pq.StringArray(r.Late.Sorted()),
		pq.StringArray(r.Absent.Sorted()), pq.StringArray(r.Excused.Sorted()),
		r.IsFinalized, r.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Record{}, attendance.ErrVersionConflict
		}
		return attendance.Record{}, errors.Wrap(err, "updating attendance record")
	}
	r.Version = version
	return r, nil
}

func (repo *recordRepository) QueryRecords(ctx context.Context, filter *attendance.QueryFilter, ordering ...core.DBOrdering) ([]attendance.Record, error) {
	var w where
	if filter != nil {
		if filter.Center != "" {
			w.add("g.center = ?", filter.Center)
		}
		if filter.Grade != "" {
			w.add("g.grade = ?", filter.Grade)
		}
		if filter.GradeType != "" {
			w.add("g.grade_type = ?", filter.GradeType)
		}
		if filter.GroupTime != "" {
			w.add("g.group_time = ?", filter.GroupTime)
		}
		if filter.From != "" {
			w.add("r.date >= ?", filter.From)
		}
		if filter.To != "" {
			w.add("r.date <= ?", filter.To)
		}
		if filter.IsFinalized != nil {
			w.add("r.is_finalized = ?", *filter.IsFinalized)
		}
	}

	var rows []recordRow
	q := sqlx.Rebind(sqlx.DOLLAR,
		`SELECT `+recordColumns+` FROM attendance_records r JOIN groups g ON g.id = r.group_id`+
			w.String()+orderBy(ordering, recordOrderings, "r.date DESC"))
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting attendance records")
	}

	records := make([]attendance.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.unpack())
	}
	return records, nil
}
