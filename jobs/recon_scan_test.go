package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/meridian-pos/meridian-pos/internal/jobs"
	"github.com/meridian-pos/meridian-pos/internal/procurement"
	"github.com/meridian-pos/meridian-pos/internal/sequence"
)

type stubReconSource struct {
	mu      sync.Mutex
	orders  []procurement.PurchaseOrder
	reports map[int64]procurement.ReconciliationReport
	seen    []int64
	listErr error
}

func (s *stubReconSource) ListOpenOrders(ctx context.Context) ([]procurement.PurchaseOrder, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.orders, nil
}

func (s *stubReconSource) VerifyOrder(ctx context.Context, orderID int64) (procurement.ReconciliationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, orderID)
	return s.reports[orderID], nil
}

func TestReconScanVisitsAllOpenOrders(t *testing.T) {
	source := &stubReconSource{
		orders: []procurement.PurchaseOrder{
			{ID: 1, Status: procurement.StatusOrdered},
			{ID: 2, Status: procurement.StatusReceivedPartial},
			{ID: 3, Status: procurement.StatusOrdered},
		},
		reports: map[int64]procurement.ReconciliationReport{
			1: {OrderID: 1, Stored: procurement.StatusOrdered, Derived: procurement.StatusOrdered},
			2: {OrderID: 2, Stored: procurement.StatusReceivedPartial, Derived: procurement.StatusCompleted, Drifted: true},
			3: {OrderID: 3, Stored: procurement.StatusOrdered, Derived: procurement.StatusOrdered},
		},
	}
	job := NewReconScanJob(source, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewReconScanTask(ReconScanPayload{Concurrency: 2})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.ElementsMatch(t, []int64{1, 2, 3}, source.seen)
}

func TestReconScanFailureCounted(t *testing.T) {
	registry := prometheus.NewRegistry()
	source := &stubReconSource{listErr: errors.New("db down")}
	job := NewReconScanJob(source, nil, jobmetrics.NewMetrics(registry))

	task, err := NewReconScanTask(ReconScanPayload{})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))

	families, err := registry.Gather()
	require.NoError(t, err)
	require.InDelta(t, 1, counterValue(families, "meridian_jobs_failures_total", TaskReconScan), 0.001)
}

// counterValue digs one labelled counter out of gathered metric families.
func counterValue(families []*dto.MetricFamily, name, job string) float64 {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

type stubSerialSource struct {
	book sequence.SerialBook
	err  error
}

func (s *stubSerialSource) ActiveBook(ctx context.Context) (sequence.SerialBook, error) {
	if s.err != nil {
		return sequence.SerialBook{}, s.err
	}
	return s.book, nil
}

func TestSerialWatchHandlesMissingBook(t *testing.T) {
	job := NewSerialWatchJob(
		&stubSerialSource{err: sequence.ErrNoActiveSerialBook},
		nil,
		jobmetrics.NewMetrics(prometheus.NewRegistry()),
	)
	task, err := NewSerialWatchTask(SerialWatchPayload{})
	require.NoError(t, err)
	// Missing book is an operator problem, not a retryable task failure.
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestSerialWatchReadsRemaining(t *testing.T) {
	job := NewSerialWatchJob(
		&stubSerialSource{book: sequence.SerialBook{
			ID:            1,
			SerialStart:   "AA000001",
			SerialEnd:     "AA001000",
			CurrentSerial: "AA000990",
			Active:        true,
		}},
		nil,
		jobmetrics.NewMetrics(prometheus.NewRegistry()),
	)
	task, err := NewSerialWatchTask(SerialWatchPayload{WarnRemaining: 20})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}
