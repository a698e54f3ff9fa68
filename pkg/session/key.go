package session

import "fmt"

// Key uniquely identifies one logical session on the receiving side. Remote is
// the canonical "ip:port" of the peer socket; ID is the session id the peer
// stamps into its outgoing headers. Two peers may reuse the same remote
// address with different ids across reconnects, so both fields participate in
// equality.
type Key struct {
    Remote string
    ID     uint32
}

func (k Key) String() string { return fmt.Sprintf("%s#%d", k.Remote, k.ID) }
