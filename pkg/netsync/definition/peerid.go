package definition

import (
	"github.com/google/uuid"

	"github.com/ridgeline-sim/netsync/pkg/netsync/types"
)

// NewUUIDPeerID generates a fresh opaque peer id, mirroring the teacher's
// helper.GenerateUID used throughout its test harness. Production
// embedders are free to supply their own stable peer id from the
// transport instead.
func NewUUIDPeerID() types.PeerID {
	return types.PeerID(uuid.NewString())
}
