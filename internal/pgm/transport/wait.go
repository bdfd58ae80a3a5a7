package transport

// tryDeliver implements the edge/level pending-notify policy (spec §4.11)
// on top of the delivered-APDU queue. In level-triggered mode (the
// default) any already-delivered data satisfies a call immediately. In
// edge-triggered mode a call only takes this fast path once per distinct
// arrival notification: it must observe a pending notify via Drain before
// it is allowed to look at the queue at all, so a caller that doesn't
// fully drain one delivery batch has to wait for the next actual arrival
// rather than spinning on leftover data — the same EPOLLET gotcha a
// level-triggered caller never hits.
func (t *Transport) tryDeliver(msgv []Message) (n int, bytesRead int, ok bool) {
	if t.cfg.EdgeTriggered && !t.notify.Drain() {
		return 0, 0, false
	}
	n, bytesRead = t.drainDelivered(msgv)
	return n, bytesRead, n > 0
}

// drainDelivered copies up to len(msgv) delivered APDUs into msgv, removing
// them from the queue, and reports how many messages and total bytes it
// filled.
func (t *Transport) drainDelivered(msgv []Message) (n int, bytesRead int) {
	if len(msgv) == 0 {
		return 0, 0
	}
	t.deliveredMu.Lock()
	defer t.deliveredMu.Unlock()
	for n < len(msgv) && len(t.delivered) > 0 {
		v := t.delivered[0]
		t.delivered = t.delivered[1:]
		msgv[n] = Message{TSI: v.TSI, FirstSeq: v.FirstSeq, LastSeq: v.LastSeq, Data: v.Data}
		bytesRead += len(v.Data)
		n++
	}
	return n, bytesRead
}
