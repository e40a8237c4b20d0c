package api

import "sync"

// RelayNavigator captures navigation initiated by the handoff so the handler
// can relay the target location to the HTTP client, which performs the actual
// navigation.
type RelayNavigator struct {
	mu       sync.Mutex
	location string
}

func NewRelayNavigator() *RelayNavigator {
	return &RelayNavigator{}
}

func (n *RelayNavigator) NavigateTo(path string) {
	n.mu.Lock()
	n.location = path
	n.mu.Unlock()
}

func (n *RelayNavigator) ReplaceURL(path string) {
	n.NavigateTo(path)
}

// Take returns the pending location and clears it.
func (n *RelayNavigator) Take() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	location := n.location
	n.location = ""
	return location
}
