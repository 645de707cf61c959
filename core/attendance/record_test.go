package attendance

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/darasa/core/student"
)

func TestRecord_MarkPresent(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(r *Record)
		fromOther   bool
		wantErr     error
		wantPresent []string
		wantExcused []string
	}{
		{name: "present", wantPresent: []string{"a"}, wantExcused: []string{}},
		{name: "from other group", fromOther: true, wantPresent: []string{}, wantExcused: []string{"a"}},
		{
			name:    "already present",
			setup:   func(r *Record) { r.Present = SetOf("a") },
			wantErr: ErrAlreadyMarked, wantPresent: []string{"a"}, wantExcused: []string{},
		},
		{
			name:    "already excused",
			setup:   func(r *Record) { r.Excused = SetOf("a") },
			wantErr: ErrAlreadyMarked, wantPresent: []string{}, wantExcused: []string{"a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecord("g1", "2024-03-02")
			if tt.setup != nil {
				tt.setup(&r)
			}
			if err := r.MarkPresent("a", tt.fromOther); err != tt.wantErr {
				t.Fatalf("MarkPresent() error = %v; wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.wantPresent, r.Present.Sorted())
			assert.Equal(t, tt.wantExcused, r.Excused.Sorted())
		})
	}
}

func TestRecord_MarkLate(t *testing.T) {
	r := NewRecord("g1", "2024-03-02")
	if err := r.MarkLate("a"); err != ErrNotFinalized {
		t.Fatalf("MarkLate() on open record: error = %v; wantErr %v", err, ErrNotFinalized)
	}

	absent, err := r.Finalize([]string{"a", "b"}, time.Now())
	if err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}
	assert.Equal(t, []string{"a", "b"}, absent)

	if err = r.MarkLate("a"); err != nil {
		t.Fatalf("MarkLate() failed: %v", err)
	}
	assert.Equal(t, []string{"a"}, r.Late.Sorted())
	assert.Equal(t, []string{"b"}, r.Absent.Sorted())

	if err = r.MarkLate("a"); err != ErrAlreadyMarked {
		t.Errorf("MarkLate() twice: error = %v; wantErr %v", err, ErrAlreadyMarked)
	}
	status, ok := r.StatusOf("a")
	assert.True(t, ok)
	assert.Equal(t, student.StatusLate, status)
}

func TestRecord_RemoveMark(t *testing.T) {
	r := NewRecord("g1", "2024-03-02")
	r.Present = SetOf("a")
	r.Late = SetOf("b")
	r.Absent = SetOf("c")
	r.Excused = SetOf("d")

	tests := []struct {
		id      string
		wantErr error
	}{
		{id: "a"},
		{id: "b"},
		{id: "c", wantErr: ErrNotMarked},
		{id: "d", wantErr: ErrNotMarked},
		{id: "e", wantErr: ErrNotMarked},
		{id: "a", wantErr: ErrNotMarked},
	}
	for _, tt := range tests {
		if err := r.RemoveMark(tt.id); err != tt.wantErr {
			t.Errorf("RemoveMark(%s) error = %v; wantErr %v", tt.id, err, tt.wantErr)
		}
	}
	assert.Empty(t, r.Present)
	assert.Empty(t, r.Late)
	assert.Equal(t, []string{"c"}, r.Absent.Sorted())
	assert.Equal(t, []string{"d"}, r.Excused.Sorted())
}

func TestRecord_Finalize(t *testing.T) {
	at := time.Date(2024, 3, 2, 18, 0, 0, 0, time.UTC)
	r := NewRecord("g1", "2024-03-02")
	_ = r.MarkPresent("a", false)
	_ = r.MarkPresent("x", true)

	absent, err := r.Finalize([]string{"c", "a", "b"}, at)
	if err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}
	assert.Equal(t, []string{"b", "c"}, absent)
	assert.Equal(t, []string{"a"}, r.Present.Sorted())
	assert.Equal(t, []string{"x"}, r.Excused.Sorted())
	assert.Equal(t, []string{"b", "c"}, r.Absent.Sorted())
	assert.True(t, r.IsFinalized)
	assert.Equal(t, at, r.FinalizedAt.Time)
	assert.Equal(t, StateFinalized, r.State())

	if _, err = r.Finalize([]string{"a"}, at); err != ErrAlreadyFinalized {
		t.Errorf("Finalize() twice: error = %v; wantErr %v", err, ErrAlreadyFinalized)
	}
}

func TestRecord_setsStayDisjoint(t *testing.T) {
	r := NewRecord("g1", "2024-03-02")
	_ = r.MarkPresent("a", false)
	_ = r.MarkPresent("b", true)
	_, _ = r.Finalize([]string{"a", "c", "d"}, time.Now())
	_ = r.MarkLate("c")
	_ = r.RemoveMark("a")

	seen := make(map[string]int)
	for _, s := range []Set{r.Present, r.Late, r.Absent, r.Excused} {
		for id := range s {
			seen[id]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("student %s is in %d sets", id, n)
		}
	}
}

func TestRecord_Clone(t *testing.T) {
	r := NewRecord("g1", "2024-03-02")
	_ = r.MarkPresent("a", false)
	c := r.Clone()
	_ = c.MarkPresent("b", false)

	if !reflect.DeepEqual(r.Present.Sorted(), []string{"a"}) {
		t.Errorf("Clone() shares sets with the original: %v", r.Present.Sorted())
	}
}

func TestEmptySnapshot(t *testing.T) {
	key := student.GroupKey{Center: "Nasr City", Grade: "3", GradeType: "Sec", GroupTime: "Sat 4pm"}
	snap := EmptySnapshot(key, "2024-03-02")
	assert.Equal(t, StateNotStarted, snap.State)
	assert.Equal(t, []string{}, snap.Present)
	assert.False(t, snap.IsFinalized)
}

func TestKeyedMutex(t *testing.T) {
	km := newKeyedMutex()
	key := sessionKey("g1", "2024-03-02")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, km.size())

	// distinct keys do not block each other
	unlock1 := km.Lock(sessionKey("g1", "2024-03-02"))
	unlock2 := km.Lock(sessionKey("g2", "2024-03-02"))
	assert.Equal(t, 2, km.size())
	unlock1()
	unlock2()
	assert.Equal(t, 0, km.size())
}
