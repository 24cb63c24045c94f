// Package metrics records tracker activity. The directory never records
// anything itself: the network side and the sweeper report through a Recorder.
package metrics

// Recorder receives tracker events
type Recorder interface {
	RequestReceived()
	ConnectionOpened()
	ConnectionClosed()
	PeersEvicted(n int)
	HashesEvicted(n int)
}

// Nop discards every event
type Nop struct{}

func (Nop) RequestReceived()  {}
func (Nop) ConnectionOpened() {}
func (Nop) ConnectionClosed() {}
func (Nop) PeersEvicted(int)  {}
func (Nop) HashesEvicted(int) {}
