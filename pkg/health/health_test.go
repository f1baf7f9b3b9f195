package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCheck struct {
	name string
	err  error
}

func (f *fakeCheck) Name() string                    { return f.name }
func (f *fakeCheck) Check(ctx context.Context) error { return f.err }

func TestRegistry_RunAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeCheck{name: "a"})
	r.Register(&fakeCheck{name: "b"})

	report := r.Run(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 2)
}

func TestRegistry_RunOneUnhealthyMakesReportUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeCheck{name: "a"})
	r.Register(&fakeCheck{name: "b", err: errors.New("boom")})

	report := r.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
}

type fakeHub struct {
	healthy bool
	conns   int
	rooms   int
}

func (h *fakeHub) IsHealthy() bool      { return h.healthy }
func (h *fakeHub) ConnectionCount() int { return h.conns }
func (h *fakeHub) RoomCount() int       { return h.rooms }

func TestHubCheck_DegradedAboveThreshold(t *testing.T) {
	c := NewHubCheck(&fakeHub{healthy: true, conns: 20}, WithMaxConnectionsThreshold(10))
	res := c.CheckDetailed(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
}

func TestHubCheck_UnhealthyWhenHubDown(t *testing.T) {
	c := NewHubCheck(&fakeHub{healthy: false})
	assert.Error(t, c.Check(context.Background()))
}

func TestStoreCheck(t *testing.T) {
	ok := NewStoreCheck(func(ctx context.Context) error { return nil })
	assert.NoError(t, ok.Check(context.Background()))

	bad := NewStoreCheck(func(ctx context.Context) error { return errors.New("unreachable") })
	assert.Error(t, bad.Check(context.Background()))
}
