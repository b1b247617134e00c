package ioselector

import (
	"sync"
)

// taskChunkSize is the number of tasks per node of a taskQueue.
const taskChunkSize = 128

var taskChunkPool = sync.Pool{
	New: func() any {
		return &taskChunk{}
	},
}

// taskChunk is a fixed-size node, read from readPos and written at writePos.
type taskChunk struct {
	tasks    [taskChunkSize]func()
	next     *taskChunk
	readPos  int
	writePos int
}

func getTaskChunk() *taskChunk {
	c := taskChunkPool.Get().(*taskChunk)
	c.next = nil
	c.readPos = 0
	c.writePos = 0
	return c
}

func putTaskChunk(c *taskChunk) {
	clear(c.tasks[:c.writePos])
	c.next = nil
	c.readPos = 0
	c.writePos = 0
	taskChunkPool.Put(c)
}

// taskQueue is an unbounded FIFO of tasks, stored as a linked list of
// pooled chunks.
//
// Not thread-safe. The caller must hold the owning mutex.
type taskQueue struct {
	head   *taskChunk
	tail   *taskChunk
	length int
}

func (q *taskQueue) Push(task func()) {
	if q.tail == nil {
		q.tail = getTaskChunk()
		q.head = q.tail
	} else if q.tail.writePos == taskChunkSize {
		c := getTaskChunk()
		q.tail.next = c
		q.tail = c
	}
	q.tail.tasks[q.tail.writePos] = task
	q.tail.writePos++
	q.length++
}

// Pop removes the oldest task, returning false if the queue is empty.
func (q *taskQueue) Pop() (func(), bool) {
	if q.length == 0 {
		return nil, false
	}
	c := q.head
	task := c.tasks[c.readPos]
	c.tasks[c.readPos] = nil
	c.readPos++
	q.length--
	if c.readPos == c.writePos {
		if c == q.tail {
			// reuse the only chunk
			c.readPos = 0
			c.writePos = 0
		} else {
			q.head = c.next
			putTaskChunk(c)
		}
	}
	return task, true
}

func (q *taskQueue) Length() int {
	return q.length
}
