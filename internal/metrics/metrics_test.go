package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterConcurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Inc("webhook.received")
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(50), r.Counter("webhook.received").Load())
}

func TestObserve(t *testing.T) {
	r := NewRegistry()
	r.Observe("gateway.razorpay.create_order", StartTimer())

	snap := r.Snapshot()
	assert.Equal(t, uint64(1), snap["gateway.razorpay.create_order.calls"])
	_, ok := snap["gateway.razorpay.create_order.latency_ms_total"]
	assert.True(t, ok)
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.Inc("order.paid")

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"order.paid":1}`, w.Body.String())
}
