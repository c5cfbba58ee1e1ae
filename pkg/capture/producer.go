package capture

import (
	"errors"
	"sync/atomic"
	"time"
)

// deliveryPath routes produced bytes to the user. push and flush run on the
// producer goroutine; neither may block beyond the work it is handed.
type deliveryPath interface {
	// push hands over the next run of captured bytes, in stream order.
	push(p []byte)
	// flush marks the end of one endpoint wake-up.
	flush()
}

// directPath accumulates one wake-up's worth of bytes and hands the whole
// contiguous range to the callback on the producer goroutine. No alignment
// step is needed: the endpoint only ever yields whole frames.
type directPath struct {
	callback Callback
	buf      []byte
}

func (d *directPath) push(p []byte) {
	d.buf = append(d.buf, p...)
}

func (d *directPath) flush() {
	if len(d.buf) == 0 {
		return
	}
	if d.callback != nil {
		d.callback(d.buf)
	}
	d.buf = d.buf[:0]
}

// bufferedPath feeds the transport queue. Under overflow only a whole-frame
// prefix of the input is enqueued; the rest is dropped and counted, keeping
// the queued stream frame-aligned end to end.
type bufferedPath struct {
	queue     *TransportQueue
	frameSize int
	dropped   *atomic.Uint64
}

func (b *bufferedPath) push(p []byte) {
	free := b.queue.Free()
	fit := len(p)
	if fit > free {
		fit = free - free%b.frameSize
		if fit < 0 {
			fit = 0
		}
	}
	if fit > 0 {
		b.queue.Push(p[:fit])
	}
	if fit < len(p) {
		b.dropped.Add(uint64(len(p) - fit))
	}
}

func (b *bufferedPath) flush() {}

// produce is the realtime loop: wait for the endpoint signal, drain every
// pending batch, enforce the skip counter, route bytes to the delivery path
// and track the per-wake-up execution time.
//
// Endpoint read/release faults are absorbed at wake-up granularity: they end
// the drain for this tick and capture continues on the next signal.
func (s *Session) produce(g *generation, sink deliveryPath, skip uint64) {
	defer g.wg.Done()

	if tb, ok := s.endpoint.(ThreadBinder); ok {
		unbind := tb.BindThread()
		defer unbind()
	}

	for !g.stopped() {
		if !s.endpoint.WaitBatch(batchWaitTimeout) {
			continue
		}
		// The signal also fires when the capture is being stopped.
		if g.stopped() {
			return
		}

		start := time.Now()
		for {
			batch, err := s.endpoint.NextBatch()
			if err != nil {
				if !errors.Is(err, ErrNoBatch) {
					s.tickErrors.Add(1)
					log.Debug("endpoint read fault", "error", err)
				}
				break
			}

			data := batch.Data
			if skip > 0 {
				n := uint64(len(data))
				if n > skip {
					n = skip
				}
				skip -= n
				data = data[n:]
			}
			if len(data) > 0 {
				sink.push(data)
			}

			if err := s.endpoint.ReleaseBatch(batch.Frames); err != nil {
				s.tickErrors.Add(1)
				log.Debug("endpoint release fault", "error", err)
				break
			}
		}
		sink.flush()

		elapsed := int64(time.Since(start))
		for {
			prev := s.maxTickNanos.Load()
			if elapsed <= prev || s.maxTickNanos.CompareAndSwap(prev, elapsed) {
				break
			}
		}
	}
}
