package mocks

import (
	"sync"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/reading"
)

// Queue is a mock write queue that records every reading it is given. It
// returns err from Enqueue when set.
type Queue struct {
	err error

	sync.Mutex
	Readings []*reading.Reading
}

// NewQueue returns a mock queue that will fail with err, which may be nil.
func NewQueue(err error) *Queue {
	return &Queue{err: err}
}

func (q *Queue) Enqueue(r *reading.Reading) error {
	if q.err != nil {
		return q.err
	}

	q.Lock()
	defer q.Unlock()

	q.Readings = append(q.Readings, r)

	return nil
}
