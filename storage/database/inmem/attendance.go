package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/student"
)

type recordRepository struct {
	records *recordTable
	groups  *groupTable
}

var _ attendance.RecordRepository = (*recordRepository)(nil) // interface compliance check

func NewRecordRepository(db *DB) attendance.RecordRepository {
	return &recordRepository{records: db.record, groups: db.group}
}

func (repo *recordRepository) find(groupID string, date core.Date) (*attendance.Record, bool) {
	for _, r := range repo.records.table {
		if r.GroupID == groupID && r.Date == date {
			return r, true
		}
	}
	return nil, false
}

func (repo *recordRepository) GetRecord(_ context.Context, groupID string, date core.Date) (attendance.Record, error) {
	repo.records.mutex.RLock()
	defer repo.records.mutex.RUnlock()

	if r, ok := repo.find(groupID, date); ok {
		return r.Clone(), nil
	}
	return attendance.Record{}, attendance.ErrNoRecord
}

func (repo *recordRepository) GetOrCreateRecord(_ context.Context, groupID string, date core.Date) (attendance.Record, error) {
	repo.records.mutex.Lock()
	defer repo.records.mutex.Unlock()

	if r, ok := repo.find(groupID, date); ok {
		return r.Clone(), nil
	}
	r := attendance.NewRecord(groupID, date)
	stored := r.Clone()
	repo.records.table[r.ID] = &stored
	return r, nil
}

func (repo *recordRepository) SaveRecord(_ context.Context, r attendance.Record) (attendance.Record, error) {
	repo.records.mutex.Lock()
	defer repo.records.mutex.Unlock()

	stored, ok := repo.records.table[r.ID]
	if !ok {
		return attendance.Record{}, attendance.ErrNoRecord
	}
	if stored.Version != r.Version {
		return attendance.Record{}, attendance.ErrVersionConflict
	}
	r.Version++
	c := r.Clone()
	repo.records.table[r.ID] = &c
	return r, nil
}

func (repo *recordRepository) QueryRecords(_ context.Context, filter *attendance.QueryFilter, ordering ...core.DBOrdering) ([]attendance.Record, error) {
	repo.groups.mutex.RLock()
	keys := make(map[string]student.GroupKey, len(repo.groups.table))
	for id, g := range repo.groups.table {
		keys[id] = g.Key
	}
	repo.groups.mutex.RUnlock()

	repo.records.mutex.RLock()
	defer repo.records.mutex.RUnlock()

	res := make([]attendance.Record, 0)
	for _, r := range repo.records.table {
		if filter.Match(keys[r.GroupID], *r) {
			res = append(res, r.Clone())
		}
	}

	ord := core.DBOrdering{Field: "date", Ascending: false}
	if len(ordering) > 0 {
		ord = ordering[0]
	}
	less := func(a, b attendance.Record) bool {
		if strings.ToLower(ord.Field) == "created_at" {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Date == b.Date {
			return a.GroupID < b.GroupID
		}
		return a.Date < b.Date
	}
	sort.SliceStable(res, func(i, j int) bool {
		if ord.Ascending {
			return less(res[i], res[j])
		}
		return less(res[j], res[i])
	})
	return res, nil
}
