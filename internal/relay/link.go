package relay

import "nfcrelay/internal/nfc"

// NetworkLink is the peer-facing side of the relay.  Every method is
// fire-and-forget: delivery failures are the link's concern.
type NetworkLink interface {
	SendAnticollision(m nfc.Message)
	NotifyCardFound()
	NotifyReaderFound()
	NotifyReaderRemoved()
	SendApplicationMessage(m nfc.Message)
	SendCardReply(m nfc.Message)
	NotifyNotConnected()
	DisconnectCardWorkaround()
	NotifyCardWorkaroundConnected()
}

// Role is the hardware role the coordinator currently occupies.
type Role int

const (
	RoleIdle Role = iota
	RoleCard
	RoleEmulator
)

func (r Role) String() string {
	switch r {
	case RoleCard:
		return "card"
	case RoleEmulator:
		return "emulator"
	default:
		return "idle"
	}
}
