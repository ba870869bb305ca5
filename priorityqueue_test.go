package async

import "testing"

func TestPriorityQueue(t *testing.T) {
	newCo := func(level uint32) *Coroutine {
		co := new(Coroutine)
		co.level = level
		return co
	}

	t.Run("Overall", func(t *testing.T) {
		var pq priorityqueue[*Coroutine]

		levels := map[rune]uint32{
			'a': 0, 'b': 1, 'c': 2, 'd': 3,
			'e': 4, 'f': 5, 'g': 6, 'h': 7,
			'i': 8, 'j': 9, 'k': 10,
		}

		for _, r := range "abcdefgh" {
			pq.Push(newCo(levels[r]))
		}

		for _, r := range "abcd" {
			if u := pq.Pop(); u.level != levels[r] {
				t.FailNow()
			}
		}

		for _, r := range "ijk" {
			pq.Push(newCo(levels[r]))
		}

		pq.Push(newCo(levels['d']))

		if u := pq.Pop(); u.level != levels['d'] {
			t.FailNow()
		}

		pq.Push(newCo(levels['g']))
		pq.Push(newCo(levels['f']))

		for _, r := range "effgghijk" {
			if u := pq.Pop(); u.level != levels[r] {
				t.FailNow()
			}
		}

		if !pq.Empty() {
			t.FailNow()
		}
	})
	t.Run("FIFO", func(t *testing.T) {
		var pq priorityqueue[*Coroutine]

		u := newCo(0)
		v := newCo(0)
		w := newCo(0)

		pq.Push(u)
		pq.Push(v)
		pq.Push(w)

		if pq.Pop() != u || pq.Pop() != v || pq.Pop() != w {
			t.FailNow()
		}
	})
}
