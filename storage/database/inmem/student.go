package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/student"
)

type studentRepository struct {
	students *studentTable
	groups   *groupTable
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{students: db.student, groups: db.group}
}

func (repo *studentRepository) CreateStudent(_ context.Context, s student.Student) (student.Student, error) {
	repo.students.mutex.Lock()
	defer repo.students.mutex.Unlock()

	for _, other := range repo.students.table {
		if other.Code == s.Code {
			return student.Student{}, student.ErrCodeExists
		}
		if s.CardID.Valid && other.CardID.Valid && other.CardID.String == s.CardID.String {
			return student.Student{}, student.ErrCardIDExists
		}
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	c := cloneStudent(&s)
	repo.students.table[s.ID] = &c
	return s, nil
}

func (repo *studentRepository) GetStudent(_ context.Context, filter student.GetFilter) (student.Student, error) {
	repo.students.mutex.RLock()
	defer repo.students.mutex.RUnlock()

	if filter.ID != "" {
		if s, ok := repo.students.table[filter.ID]; ok {
			return cloneStudent(s), nil
		}
		return student.Student{}, student.ErrNotFound
	}
	// card id wins over code
	if filter.CardID != "" {
		for _, s := range repo.students.table {
			if s.CardID.Valid && s.CardID.String == filter.CardID {
				return cloneStudent(s), nil
			}
		}
	}
	if filter.Code != "" {
		for _, s := range repo.students.table {
			if s.Code == filter.Code {
				return cloneStudent(s), nil
			}
		}
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) QueryStudents(_ context.Context, filter *student.QueryFilter, ordering ...core.DBOrdering) ([]student.Student, error) {
	repo.students.mutex.RLock()
	defer repo.students.mutex.RUnlock()

	res := make([]student.Student, 0, len(repo.students.table))
	for _, s := range repo.students.table {
		if filter.Match(*s) {
			res = append(res, cloneStudent(s))
		}
	}
	sortStudents(res, ordering)
	return res, nil
}

func sortStudents(students []student.Student, ordering []core.DBOrdering) {
	ord := core.DBOrdering{Field: "name", Ascending: true}
	if len(ordering) > 0 {
		ord = ordering[0]
	}
	less := func(a, b student.Student) bool {
		switch strings.ToLower(ord.Field) {
		case "code":
			return a.Code < b.Code
		case "absences":
			return a.Absences < b.Absences
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.Name < b.Name
		}
	}
	sort.SliceStable(students, func(i, j int) bool {
		if ord.Ascending {
			return less(students[i], students[j])
		}
		return less(students[j], students[i])
	})
}

func (repo *studentRepository) update(id string, fn func(s *student.Student)) error {
	repo.students.mutex.Lock()
	defer repo.students.mutex.Unlock()

	s, ok := repo.students.table[id]
	if !ok {
		return student.ErrNotFound
	}
	fn(s)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *studentRepository) UpdateStudentGroup(_ context.Context, id string, key student.GroupKey) error {
	return repo.update(id, func(s *student.Student) { s.Group = key })
}

func (repo *studentRepository) UpdateAmountRemaining(_ context.Context, id string, amount decimal.Decimal) error {
	return repo.update(id, func(s *student.Student) { s.AmountRemaining = amount })
}

func (repo *studentRepository) SaveHistoryEntry(_ context.Context, studentID string, e student.HistoryEntry, absencesDelta int) (int, error) {
	var absences int
	err := repo.update(studentID, func(s *student.Student) {
		s.UpsertHistory(e)
		s.Absences += absencesDelta
		if s.Absences < 0 {
			s.Absences = 0
		}
		absences = s.Absences
	})
	return absences, err
}

func (repo *studentRepository) DeleteHistoryEntries(_ context.Context, studentID, recordID string) (int, error) {
	var removed int
	err := repo.update(studentID, func(s *student.Student) { removed = s.RemoveHistory(recordID) })
	return removed, err
}

// groups

func (repo *studentRepository) findGroup(key student.GroupKey) (*student.Group, bool) {
	for _, g := range repo.groups.table {
		if g.Key == key {
			return g, true
		}
	}
	return nil, false
}

func (repo *studentRepository) GetGroup(_ context.Context, key student.GroupKey) (student.Group, error) {
	repo.groups.mutex.RLock()
	defer repo.groups.mutex.RUnlock()

	if g, ok := repo.findGroup(key); ok {
		return cloneGroup(g), nil
	}
	return student.Group{}, student.ErrGroupNotFound
}

func (repo *studentRepository) GetGroupByID(_ context.Context, id string) (student.Group, error) {
	repo.groups.mutex.RLock()
	defer repo.groups.mutex.RUnlock()

	if g, ok := repo.groups.table[id]; ok {
		return cloneGroup(g), nil
	}
	return student.Group{}, student.ErrGroupNotFound
}

// getOrCreate must be called with the groups lock held.
func (repo *studentRepository) getOrCreate(key student.GroupKey) *student.Group {
	if g, ok := repo.findGroup(key); ok {
		return g
	}
	g := &student.Group{
		ID:        uuid.New().String(),
		Key:       key,
		Students:  make(map[string]struct{}),
		CreatedAt: time.Now().UTC(),
	}
	repo.groups.table[g.ID] = g
	return g
}

func (repo *studentRepository) GetOrCreateGroup(_ context.Context, key student.GroupKey) (student.Group, error) {
	repo.groups.mutex.Lock()
	defer repo.groups.mutex.Unlock()
	return cloneGroup(repo.getOrCreate(key)), nil
}

func (repo *studentRepository) AddToGroup(_ context.Context, key student.GroupKey, studentID string) (student.Group, error) {
	repo.groups.mutex.Lock()
	defer repo.groups.mutex.Unlock()

	g := repo.getOrCreate(key)
	g.Add(studentID)
	return cloneGroup(g), nil
}

func (repo *studentRepository) RemoveFromGroup(_ context.Context, key student.GroupKey, studentID string) error {
	repo.groups.mutex.Lock()
	defer repo.groups.mutex.Unlock()

	g, ok := repo.findGroup(key)
	if !ok {
		return student.ErrGroupNotFound
	}
	g.Remove(studentID)
	return nil
}
