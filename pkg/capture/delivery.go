package capture

import "time"

// deliverLoop is the buffered-mode consumer: every interval it drains the
// transport queue into an alignment buffer and hands the maximal frame-
// aligned prefix to the callback. Any unaligned remainder stays buffered and
// leads the next delivery. Bytes still queued or buffered when the
// generation stops are discarded.
func (s *Session) deliverLoop(g *generation, q *TransportQueue) {
	defer g.wg.Done()

	buf := NewAlignmentBuffer(s.format.FrameSize())
	var scratch []byte

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		scratch = q.Drain(scratch[:0])
		buf.Append(scratch)

		if aligned := buf.Aligned(); len(aligned) > 0 {
			if s.callback != nil {
				s.callback(aligned)
			}
			buf.Discard(len(aligned))
		}

		select {
		case <-g.done:
			return
		case <-timer.C:
			timer.Reset(s.interval)
		}
	}
}
