package flowcontrol

import "sync"

// A Controller tracks flow control at one scope - a single stream or the
// connection as a whole. It mirrors quic-go's flowController: one side
// tracks bytes sent against a peer-granted send window, the other tracks
// bytes read against a locally-advertised receive window.
type Controller struct {
	mu sync.Mutex

	bytesSent             uint64
	sendWindow            uint64
	lastBlockedSentOffset uint64

	bytesRead              uint64
	highestReceived        uint64
	receiveWindow          uint64
	receiveWindowIncrement uint64
}

// NewController returns a Controller whose local receive window starts at
// windowIncrement and grows by windowIncrement each time it is extended.
func NewController(windowIncrement uint64) *Controller {
	return &Controller{
		receiveWindow:          windowIncrement,
		receiveWindowIncrement: windowIncrement,
	}
}

// AddBytesSent records n more bytes placed on the wire toward this scope's
// send window.
func (c *Controller) AddBytesSent(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesSent += n
}

// UpdateSendWindow applies a MAX_DATA/MAX_STREAM_DATA value received from
// the peer, reporting whether it actually advanced the window.
func (c *Controller) UpdateSendWindow(offset uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset > c.sendWindow {
		c.sendWindow = offset
		return true
	}
	return false
}

// SendWindowSize reports how many more bytes may be sent before this scope
// is send-blocked.
func (c *Controller) SendWindowSize() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bytesSent > c.sendWindow {
		return 0
	}
	return c.sendWindow - c.bytesSent
}

// UpdateHighestReceived records byteOffset as the highest offset seen in
// this scope if it exceeds the previous high-water mark, returning the
// increment (for folding into a connection-level controller that this
// stream contributes to).
func (c *Controller) UpdateHighestReceived(byteOffset uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byteOffset > c.highestReceived {
		increment := byteOffset - c.highestReceived
		c.highestReceived = byteOffset
		return increment
	}
	return 0
}

// IncrementHighestReceived folds a stream-level increment into a
// connection-level controller.
func (c *Controller) IncrementHighestReceived(increment uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.highestReceived += increment
}

// AddBytesRead records n more bytes delivered to the application from this
// scope's receive buffer.
func (c *Controller) AddBytesRead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesRead += n
}

// CheckFlowControlViolation reports whether the peer has sent more than
// this scope's advertised receive window permits.
func (c *Controller) CheckFlowControlViolation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highestReceived > c.receiveWindow
}

// MaybeTriggerBlocked reports whether a STREAM_BLOCKED/BLOCKED-equivalent
// notice is due, deduplicated per offset.
func (c *Controller) MaybeTriggerBlocked() bool {
	if c.SendWindowSize() != 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastBlockedSentOffset == c.sendWindow {
		return false
	}
	c.lastBlockedSentOffset = c.sendWindow
	return true
}

// MaybeTriggerWindowUpdate reports whether the local receive window should
// be extended, and the new absolute offset to advertise. It extends the
// window once bytesRead has consumed more than half of the current
// increment, the same threshold quic-go and Chromium both use.
func (c *Controller) MaybeTriggerWindowUpdate() (bool, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	diff := c.receiveWindow - c.bytesRead
	if diff < c.receiveWindowIncrement/2 {
		c.receiveWindow += c.receiveWindowIncrement
		return true, c.bytesRead + c.receiveWindowIncrement
	}
	return false, 0
}
