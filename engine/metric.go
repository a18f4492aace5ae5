package engine

import "sync/atomic"

// ConnectionMetrics contains atomic counters of one engine.
// They can back a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// FrameSendCount is the number of frames written.
	FrameSendCount atomic.Uint64
	// FrameRecvCount is the number of complete frames read.
	FrameRecvCount atomic.Uint64
	// AckRecvCount is the number of acknowledge bytes read.
	AckRecvCount atomic.Uint64
	// EventRecvCount is the number of decoded EVENT frames.
	EventRecvCount atomic.Uint64
	// DecodeErrCount is the number of frames dropped because they failed to decode.
	DecodeErrCount atomic.Uint64
	// NoResponseCount is the number of requests that ran into their deadline.
	NoResponseCount atomic.Uint64
	// DrainCount is the number of drain jobs executed.
	DrainCount atomic.Uint64
	// PendingEventGauge is the number of events waiting for the next drain.
	PendingEventGauge atomic.Int64
}

func (m *ConnectionMetrics) incFrameSendCount()  { m.FrameSendCount.Add(1) }
func (m *ConnectionMetrics) incFrameRecvCount()  { m.FrameRecvCount.Add(1) }
func (m *ConnectionMetrics) incAckRecvCount()    { m.AckRecvCount.Add(1) }
func (m *ConnectionMetrics) incEventRecvCount()  { m.EventRecvCount.Add(1) }
func (m *ConnectionMetrics) incDecodeErrCount()  { m.DecodeErrCount.Add(1) }
func (m *ConnectionMetrics) incNoResponseCount() { m.NoResponseCount.Add(1) }
func (m *ConnectionMetrics) incDrainCount()      { m.DrainCount.Add(1) }

func (m *ConnectionMetrics) setPendingEventGauge(n int) {
	m.PendingEventGauge.Store(int64(n))
}
