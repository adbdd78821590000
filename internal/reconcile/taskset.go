package reconcile

import "github.com/alfredjeanlab/opreport/internal/model"

// TaskSet is an ordered collection of tasks keyed uniquely by id. Order is
// the order in which ids were first seen.
type TaskSet struct {
	tasks []*model.Task
	index map[int]int
}

// NewTaskSet builds a set from tasks. Later duplicates replace earlier ones
// in place.
func NewTaskSet(tasks []*model.Task) *TaskSet {
	s := &TaskSet{index: make(map[int]int, len(tasks))}
	for _, t := range tasks {
		s.Put(t)
	}
	return s
}

// Put inserts t, replacing any task with the same id. It reports whether an
// existing task was replaced.
func (s *TaskSet) Put(t *model.Task) bool {
	if t == nil {
		return false
	}
	if s.index == nil {
		s.index = make(map[int]int)
	}
	if i, ok := s.index[t.ID]; ok {
		s.tasks[i] = t
		return true
	}
	s.index[t.ID] = len(s.tasks)
	s.tasks = append(s.tasks, t)
	return false
}

// Get returns the task with the given id.
func (s *TaskSet) Get(id int) (*model.Task, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.tasks[i], true
}

// Has reports whether the set contains id.
func (s *TaskSet) Has(id int) bool {
	_, ok := s.Get(id)
	return ok
}

// Tasks returns the tasks in set order. The slice must not be modified.
func (s *TaskSet) Tasks() []*model.Task {
	if s == nil {
		return nil
	}
	return s.tasks
}

// Len returns the number of tasks.
func (s *TaskSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tasks)
}

// Incomplete returns the ids of tasks whose status is not well formed.
func (s *TaskSet) Incomplete() []int {
	var ids []int
	for _, t := range s.Tasks() {
		if !t.Complete() {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
