package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/student"
)

const (
	studentColumns = `id, code, card_id, name, phone, parent_phone, parent_email, absences, balance,
		amount_remaining, center, grade, grade_type, group_time, created_at, updated_at`
	historyColumns = `student_id, to_char(date, 'YYYY-MM-DD') AS date, record_id, status, homework, center, grade,
		grade_type, group_time, balance, amount_remaining, absence_policy_ignored, from_other_group, recorded_at`
	groupColumns = `id, center, grade, grade_type, group_time, students, created_at`
)

var studentOrderings = map[string]string{
	"name":       "name",
	"code":       "code",
	"absences":   "absences",
	"created_at": "created_at",
}

type (
	studentRow struct {
		ID              string          `db:"id"`
		Code            string          `db:"code"`
		CardID          null.String     `db:"card_id"`
		Name            string          `db:"name"`
		Phone           string          `db:"phone"`
		ParentPhone     string          `db:"parent_phone"`
		ParentEmail     null.String     `db:"parent_email"`
		Absences        int             `db:"absences"`
		Balance         decimal.Decimal `db:"balance"`
		AmountRemaining decimal.Decimal `db:"amount_remaining"`
		Center          string          `db:"center"`
		Grade           string          `db:"grade"`
		GradeType       string          `db:"grade_type"`
		GroupTime       string          `db:"group_time"`
		CreatedAt       time.Time       `db:"created_at"`
		UpdatedAt       time.Time       `db:"updated_at"`
	}

	historyRow struct {
		StudentID            string          `db:"student_id"`
		Date                 string          `db:"date"`
		RecordID             string          `db:"record_id"`
		Status               string          `db:"status"`
		Homework             string          `db:"homework"`
		Center               string          `db:"center"`
		Grade                string          `db:"grade"`
		GradeType            string          `db:"grade_type"`
		GroupTime            string          `db:"group_time"`
		Balance              decimal.Decimal `db:"balance"`
		AmountRemaining      decimal.Decimal `db:"amount_remaining"`
		AbsencePolicyIgnored bool            `db:"absence_policy_ignored"`
		FromOtherGroup       bool            `db:"from_other_group"`
		RecordedAt           time.Time       `db:"recorded_at"`
	}

	groupRow struct {
		ID        string         `db:"id"`
		Center    string         `db:"center"`
		Grade     string         `db:"grade"`
		GradeType string         `db:"grade_type"`
		GroupTime string         `db:"group_time"`
		Students  pq.StringArray `db:"students"`
		CreatedAt time.Time      `db:"created_at"`
	}
)

func (row studentRow) unpack() student.Student {
	return student.Student{
		ID:              row.ID,
		Code:            row.Code,
		CardID:          row.CardID,
		Name:            row.Name,
		Phone:           row.Phone,
		ParentPhone:     row.ParentPhone,
		ParentEmail:     row.ParentEmail,
		Absences:        row.Absences,
		Balance:         row.Balance,
		AmountRemaining: row.AmountRemaining,
		Group: student.GroupKey{
			Center:    row.Center,
			Grade:     row.Grade,
			GradeType: row.GradeType,
			GroupTime: row.GroupTime,
		},
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

func (row historyRow) unpack() student.HistoryEntry {
	return student.HistoryEntry{
		Date:     core.Date(row.Date),
		RecordID: row.RecordID,
		Status:   student.Status(row.Status),
		Homework: student.Homework(row.Homework),
		Group: student.GroupKey{
			Center:    row.Center,
			Grade:     row.Grade,
			GradeType: row.GradeType,
			GroupTime: row.GroupTime,
		},
		Payment: student.PaymentSnapshot{
			Balance:         row.Balance,
			AmountRemaining: row.AmountRemaining,
		},
		AbsencePolicyIgnored: row.AbsencePolicyIgnored,
		FromOtherGroup:       row.FromOtherGroup,
		RecordedAt:           row.RecordedAt.UTC(),
	}
}

func (row groupRow) unpack() student.Group {
	g := student.Group{
		ID: row.ID,
		Key: student.GroupKey{
			Center:    row.Center,
			Grade:     row.Grade,
			GradeType: row.GradeType,
			GroupTime: row.GroupTime,
		},
		Students:  make(map[string]struct{}, len(row.Students)),
		CreatedAt: row.CreatedAt.UTC(),
	}
	for _, id := range row.Students {
		g.Students[id] = struct{}{}
	}
	return g
}

type studentRepository struct {
	db core.DB
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db core.DB) student.Repository {
	return &studentRepository{db: db}
}

func (repo *studentRepository) CreateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	q := `INSERT INTO students (` + studentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := repo.db.ExecContext(ctx, q,
		s.ID, s.Code, s.CardID, s.Name, s.Phone, s.ParentPhone, s.ParentEmail, s.Absences, s.Balance,
		s.AmountRemaining, s.Group.Center, s.Group.Grade, s.Group.GradeType, s.Group.GroupTime,
		s.CreatedAt, s.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err, "students_code_key"):
		return student.Student{}, student.ErrCodeExists
	case isUniqueViolation(err, "students_card_id_key"):
		return student.Student{}, student.ErrCardIDExists
	case err != nil:
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return s, nil
}

func (repo *studentRepository) GetStudent(ctx context.Context, filter student.GetFilter) (student.Student, error) {
	var w where
	var order string
	switch {
	case filter.ID != "":
		w.add("id = ?", filter.ID)
	case filter.CardID != "" && filter.Code != "":
		w.add("(card_id = ? OR code = ?)", filter.CardID, filter.Code)
		// card id wins over code
		order = " ORDER BY COALESCE(card_id = ?, false) DESC"
		w.args = append(w.args, filter.CardID)
	case filter.CardID != "":
		w.add("card_id = ?", filter.CardID)
	case filter.Code != "":
		w.add("code = ?", filter.Code)
	default:
		return student.Student{}, student.ErrNotFound
	}

	var row studentRow
	q := sqlx.Rebind(sqlx.DOLLAR, `SELECT `+studentColumns+` FROM students`+w.String()+order+` LIMIT 1`)
	if err := repo.db.GetContext(ctx, &row, q, w.args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return student.Student{}, student.ErrNotFound
		}
		return student.Student{}, errors.Wrap(err, "selecting student")
	}

	var hist []historyRow
	q = `SELECT ` + historyColumns + ` FROM student_attendance_history WHERE student_id = $1 ORDER BY date`
	if err := repo.db.SelectContext(ctx, &hist, q, row.ID); err != nil {
		return student.Student{}, errors.Wrap(err, "selecting student history")
	}

	s := row.unpack()
	s.History = make([]student.HistoryEntry, 0, len(hist))
	for _, h := range hist {
		s.History = append(s.History, h.unpack())
	}
	return s, nil
}

// QueryStudents does not load the attendance history.
func (repo *studentRepository) QueryStudents(ctx context.Context, filter *student.QueryFilter, ordering ...core.DBOrdering) ([]student.Student, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			w.add("(name ILIKE ? OR code = ?)", "%"+filter.Search+"%", filter.Search)
		}
		if filter.Center != "" {
			w.add("center = ?", filter.Center)
		}
		if filter.Grade != "" {
			w.add("grade = ?", filter.Grade)
		}
		if filter.GradeType != "" {
			w.add("grade_type = ?", filter.GradeType)
		}
		if filter.GroupTime != "" {
			w.add("group_time = ?", filter.GroupTime)
		}
		if filter.MinAbsences != nil {
			w.add("absences >= ?", *filter.MinAbsences)
		}
	}

	var rows []studentRow
	q := sqlx.Rebind(sqlx.DOLLAR,
		`SELECT `+studentColumns+` FROM students`+w.String()+orderBy(ordering, studentOrderings, "name ASC"))
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting students")
	}

	students := make([]student.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.unpack())
	}
	return students, nil
}

func (repo *studentRepository) exec(ctx context.Context, q string, args ...interface{}) error {
	res, err := repo.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return student.ErrNotFound
	}
	return nil
}

func (repo *studentRepository) UpdateStudentGroup(ctx context.Context, id string, key student.GroupKey) error {
	q := `UPDATE students SET center = $2, grade = $3, grade_type = $4, group_time = $5, updated_at = now()
		WHERE id = $1`
	return errors.Wrap(repo.exec(ctx, q, id, key.Center, key.Grade, key.GradeType, key.GroupTime), "updating student group")
}

func (repo *studentRepository) UpdateAmountRemaining(ctx context.Context, id string, amount decimal.Decimal) error {
	q := `UPDATE students SET amount_remaining = $2, updated_at = now() WHERE id = $1`
	return errors.Wrap(repo.exec(ctx, q, id, amount), "updating amount remaining")
}

func (repo *studentRepository) SaveHistoryEntry(ctx context.Context, studentID string, e student.HistoryEntry, absencesDelta int) (absences int, err error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := `UPDATE students SET absences = GREATEST(absences + $2, 0), updated_at = now() WHERE id = $1 RETURNING absences`
	if err = tx.GetContext(ctx, &absences, q, studentID, absencesDelta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, student.ErrNotFound
		}
		return 0, errors.Wrap(err, "updating absences")
	}

	q = `INSERT INTO student_attendance_history (student_id, date, record_id, status, homework, center, grade,
			grade_type, group_time, balance, amount_remaining, absence_policy_ignored, from_other_group, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (student_id, date) DO UPDATE SET
			record_id = EXCLUDED.record_id,
			status = EXCLUDED.status,
			homework = EXCLUDED.homework,
			center = EXCLUDED.center,
			grade = EXCLUDED.grade,
			grade_type = EXCLUDED.grade_type,
			group_time = EXCLUDED.group_time,
			balance = EXCLUDED.balance,
			amount_remaining = EXCLUDED.amount_remaining,
			absence_policy_ignored = EXCLUDED.absence_policy_ignored,
			from_other_group = EXCLUDED.from_other_group,
			recorded_at = EXCLUDED.recorded_at`
	if _, err = tx.ExecContext(ctx, q,
		studentID, string(e.Date), e.RecordID, string(e.Status), string(e.Homework), e.Group.Center, e.Group.Grade,
		e.Group.GradeType, e.Group.GroupTime, e.Payment.Balance, e.Payment.AmountRemaining, e.AbsencePolicyIgnored,
		e.FromOtherGroup, e.RecordedAt,
	); err != nil {
		return 0, errors.Wrap(err, "upserting history entry")
	}

	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing history entry")
	}
	return absences, nil
}

func (repo *studentRepository) DeleteHistoryEntries(ctx context.Context, studentID, recordID string) (int, error) {
	res, err := repo.db.ExecContext(ctx,
		`DELETE FROM student_attendance_history WHERE student_id = $1 AND record_id = $2`, studentID, recordID)
	if err != nil {
		return 0, errors.Wrap(err, "deleting history entries")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deleting history entries")
}

// groups

func (repo *studentRepository) getGroup(ctx context.Context, q string, args ...interface{}) (student.Group, error) {
	var row groupRow
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return student.Group{}, student.ErrGroupNotFound
		}
		return student.Group{}, errors.Wrap(err, "selecting group")
	}
	return row.unpack(), nil
}

func (repo *studentRepository) GetGroup(ctx context.Context, key student.GroupKey) (student.Group, error) {
	q := `SELECT ` + groupColumns + ` FROM groups
		WHERE center = $1 AND grade = $2 AND grade_type = $3 AND group_time = $4`
	return repo.getGroup(ctx, q, key.Center, key.Grade, key.GradeType, key.GroupTime)
}

func (repo *studentRepository) GetGroupByID(ctx context.Context, id string) (student.Group, error) {
	return repo.getGroup(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id)
}

func (repo *studentRepository) GetOrCreateGroup(ctx context.Context, key student.GroupKey) (student.Group, error) {
	q := `INSERT INTO groups (id, center, grade, grade_type, group_time) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (center, grade, grade_type, group_time) DO NOTHING`
	if _, err := repo.db.ExecContext(ctx, q, uuid.New().String(), key.Center, key.Grade, key.GradeType, key.GroupTime); err != nil {
		return student.Group{}, errors.Wrap(err, "inserting group")
	}
	return repo.GetGroup(ctx, key)
}

func (repo *studentRepository) AddToGroup(ctx context.Context, key student.GroupKey, studentID string) (student.Group, error) {
	q := `INSERT INTO groups (id, center, grade, grade_type, group_time, students)
		VALUES ($1, $2, $3, $4, $5, ARRAY[$6::text])
		ON CONFLICT (center, grade, grade_type, group_time) DO UPDATE SET students =
			CASE WHEN $6::text = ANY(groups.students) THEN groups.students
			ELSE array_append(groups.students, $6::text) END
		RETURNING ` + groupColumns
	return repo.getGroup(ctx, q, uuid.New().String(), key.Center, key.Grade, key.GradeType, key.GroupTime, studentID)
}

func (repo *studentRepository) RemoveFromGroup(ctx context.Context, key student.GroupKey, studentID string) error {
	q := `UPDATE groups SET students = array_remove(students, $5::text)
		WHERE center = $1 AND grade = $2 AND grade_type = $3 AND group_time = $4`
	res, err := repo.db.ExecContext(ctx, q, key.Center, key.Grade, key.GradeType, key.GroupTime, studentID)
	if err != nil {
		return errors.Wrap(err, "removing student from group")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return student.ErrGroupNotFound
	}
	return nil
}
