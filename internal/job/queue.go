package job

import "regexp"

// Queue is an insertion-ordered collection of jobs with at most one record
// per identity. Adding a record that matches an existing one replaces it in
// place, keeping the original position.
type Queue struct {
	jobs []*Job
}

// NewQueue creates a queue from the given jobs, deduplicating by identity.
func NewQueue(jobs ...*Job) *Queue {
	q := &Queue{}
	for _, j := range jobs {
		q.Add(j)
	}
	return q
}

// Len is the number of jobs in the queue.
func (q *Queue) Len() int { return len(q.jobs) }

// Jobs returns the jobs in insertion order. The slice is shared; callers
// must not mutate it.
func (q *Queue) Jobs() []*Job { return q.jobs }

// Add inserts j, replacing any record with the same identity in place.
func (q *Queue) Add(j *Job) {
	for i, existing := range q.jobs {
		if Match(existing, j) {
			q.jobs[i] = j
			return
		}
	}
	q.jobs = append(q.jobs, j)
}

// Merge returns a new queue containing q's jobs followed by other's, with
// other's records winning on identity collisions.
func (q *Queue) Merge(other *Queue) *Queue {
	merged := NewQueue(q.jobs...)
	for _, j := range other.jobs {
		merged.Add(j)
	}
	return merged
}

// Find returns the record matching the given job's identity, or nil.
func (q *Queue) Find(target *Job) *Job {
	for _, j := range q.jobs {
		if Match(j, target) {
			return j
		}
	}
	return nil
}

// Get returns the job the identifier refers to, or nil.
func (q *Queue) Get(id string) *Job {
	for _, j := range q.jobs {
		if MatchID(id, j) {
			return j
		}
	}
	return nil
}

// Contains reports whether any record matches the identifier.
func (q *Queue) Contains(id string) bool { return q.Get(id) != nil }

// Pop removes and returns the job the identifier refers to, or nil.
func (q *Queue) Pop(id string) *Job {
	for i, j := range q.jobs {
		if MatchID(id, j) {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return j
		}
	}
	return nil
}

// Remove removes any record matching the given job's identity.
func (q *Queue) Remove(target *Job) {
	for i, j := range q.jobs {
		if Match(j, target) {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return
		}
	}
}

// CountState counts jobs in the given state.
func (q *Queue) CountState(state State) int {
	n := 0
	for _, j := range q.jobs {
		if j.State == state {
			n++
		}
	}
	return n
}

func (q *Queue) filter(keep func(*Job) bool) *Queue {
	out := &Queue{}
	for _, j := range q.jobs {
		if keep(j) {
			out.jobs = append(out.jobs, j)
		}
	}
	return out
}

// FilterOwner keeps jobs owned by the given user. The argument may be a
// bare username or a full `user@host` owner string.
func (q *Queue) FilterOwner(owner string) *Queue {
	return q.filter(func(j *Job) bool {
		return j.Owner == owner || j.OwnerName() == owner
	})
}

// FilterState keeps jobs in the given state.
func (q *Queue) FilterState(state State) *Queue {
	return q.filter(func(j *Job) bool { return j.State == state })
}

// FilterCluster keeps jobs registered against the given cluster.
func (q *Queue) FilterCluster(cluster Cluster) *Queue {
	return q.filter(func(j *Job) bool { return j.Cluster == cluster })
}

// FilterID keeps the job the identifier refers to, if any.
func (q *Queue) FilterID(id string) *Queue {
	return q.filter(func(j *Job) bool { return MatchID(id, j) })
}

// FilterName keeps jobs whose name matches the pattern.
func (q *Queue) FilterName(pattern string) (*Queue, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return q.filter(func(j *Job) bool { return re.MatchString(j.Name) }), nil
}
