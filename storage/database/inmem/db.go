package inmemdb

import (
	"sync"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/student"
)

type (
	// DB is a process-local store used in tests and by the `inmem` database engine.
	DB struct {
		student      *studentTable
		group        *groupTable
		record       *recordTable
		notification *notificationTable
	}

	studentTable struct {
		table map[string]*student.Student
		mutex sync.RWMutex
	}

	groupTable struct {
		table map[string]*student.Group // {id: group}
		mutex sync.RWMutex
	}

	recordTable struct {
		table map[string]*attendance.Record // {id: record}
		mutex sync.RWMutex
	}

	notificationTable struct {
		table []core.Notification
		mutex sync.RWMutex
	}
)

func Open() *DB {
	return &DB{
		student:      &studentTable{table: make(map[string]*student.Student)},
		group:        &groupTable{table: make(map[string]*student.Group)},
		record:       &recordTable{table: make(map[string]*attendance.Record)},
		notification: &notificationTable{},
	}
}

func cloneStudent(s *student.Student) student.Student {
	c := *s
	c.History = append([]student.HistoryEntry(nil), s.History...)
	return c
}

func cloneGroup(g *student.Group) student.Group {
	c := *g
	c.Students = make(map[string]struct{}, len(g.Students))
	for id := range g.Students {
		c.Students[id] = struct{}{}
	}
	return c
}
