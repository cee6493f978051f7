package golin

import "strings"

type Role int

const (
	RoleNone Role = iota
	MasterPublish
	MasterSubscribe
	SlavePublish
	SlaveSubscribe
)

// Roles lists the selectable roles in menu order.
var Roles = []Role{MasterPublish, MasterSubscribe, SlaveSubscribe, SlavePublish}

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "None"
	case MasterPublish:
		return "Master PUBLISH"
	case MasterSubscribe:
		return "Master SUBSCRIBER"
	case SlavePublish:
		return "Slave PUBLISH"
	case SlaveSubscribe:
		return "Slave SUBSCRIBER"
	default:
		return "Unknown"
	}
}

func (r Role) Master() bool {
	return r == MasterPublish || r == MasterSubscribe
}

// Key is the operator menu key selecting the role.
func (r Role) Key() byte {
	switch r {
	case MasterPublish:
		return 'm'
	case MasterSubscribe:
		return 'r'
	case SlavePublish:
		return 'p'
	case SlaveSubscribe:
		return 's'
	}
	return 0
}

// ParseRole maps an operator key to a role, case insensitive.
func ParseRole(key byte) (Role, bool) {
	switch key {
	case 'm', 'M':
		return MasterPublish, true
	case 'r', 'R':
		return MasterSubscribe, true
	case 's', 'S':
		return SlaveSubscribe, true
	case 'p', 'P':
		return SlavePublish, true
	}
	return RoleNone, false
}

// RoleByName accepts a menu key or a role name such as "master-subscribe".
func RoleByName(name string) (Role, bool) {
	if len(name) == 1 {
		return ParseRole(name[0])
	}
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
	for _, r := range Roles {
		if strings.ReplaceAll(strings.ToLower(r.String()), " ", "") == normalized {
			return r, true
		}
	}
	switch normalized {
	case "masterpublisher", "masterpub":
		return MasterPublish, true
	case "mastersubscribe", "masterrequest", "mastersub":
		return MasterSubscribe, true
	case "slavepublisher", "slavepub":
		return SlavePublish, true
	case "slavesubscribe", "slavesub":
		return SlaveSubscribe, true
	}
	return RoleNone, false
}

// roleConfig is what selecting a role sets up.
type roleConfig struct {
	master    bool
	direction Direction
	handler   HandlerKind
	armBus    bool
	armTick   bool
	request   bool
	preload   bool
}

var roleTable = map[Role]roleConfig{
	MasterPublish: {
		master:    true,
		direction: Publish,
		handler:   KindNone,
		armTick:   true,
	},
	MasterSubscribe: {
		master:    true,
		direction: Subscribe,
		handler:   KindMasterSubscribe,
		armBus:    true,
		armTick:   true,
		request:   true,
	},
	SlaveSubscribe: {
		direction: Subscribe,
		handler:   KindSlaveSubscribe,
		armBus:    true,
	},
	SlavePublish: {
		direction: Publish,
		handler:   KindSlavePublish,
		armBus:    true,
		preload:   true,
	},
}
