package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilObserverIsNoOp(t *testing.T) {
	var o *Observer
	assert.NotPanics(t, func() {
		o.Sent()
		o.Acked()
		o.Nacked()
		o.Retried()
		o.Failed()
		o.Connection()
		o.SetActiveWorkers(3)
		assert.Nil(t, o.Registry())
	})
}

func TestObserverCountsAndRegisters(t *testing.T) {
	o := NewObserver("sender")
	o.Sent()
	o.Sent()
	o.Acked()

	metrics, err := o.Registry().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, metrics)
}

func TestNewCorrelationIDIsUnique(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
