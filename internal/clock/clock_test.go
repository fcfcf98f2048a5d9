package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMock_AfterFunc(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMock(start)

	var order []string
	m.AfterFunc(2*time.Second, func() { order = append(order, "second") })
	m.AfterFunc(time.Second, func() { order = append(order, "first") })
	stopped := m.AfterFunc(time.Second, func() { order = append(order, "stopped") })

	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())
	assert.Equal(t, 2, m.Pending())

	m.Advance(500 * time.Millisecond)
	assert.Empty(t, order)

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, start.Add(2500*time.Millisecond), m.Now())
	assert.Equal(t, 0, m.Pending())
}

func TestMock_After(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	ch := m.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	m.Advance(time.Minute)
	select {
	case got := <-ch:
		assert.Equal(t, time.Unix(60, 0), got)
	default:
		t.Fatal("did not fire")
	}
}

func TestReal(t *testing.T) {
	c := New()
	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, c.Now().IsZero())
}
