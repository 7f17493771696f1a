package world

import (
	"fmt"

	"duel/protocol"
)

type KeyKind uint8

const (
	// KeyNone is the zero key; no body carries it.
	KeyNone KeyKind = iota
	KeyStatic
	KeyPlayer
	KeyBullet
)

// Key identifies a simulated body identically on every endpoint. Local
// entity ids differ between processes; keys never do, so bodies are always
// visited in key order.
type Key struct {
	Kind KeyKind
	ID   uint64
}

func PlayerKey(c protocol.ClientID) Key {
	return Key{Kind: KeyPlayer, ID: uint64(c)}
}

func BulletKey(token uint64) Key {
	return Key{Kind: KeyBullet, ID: token}
}

func StaticKey(i int) Key {
	return Key{Kind: KeyStatic, ID: uint64(i)}
}

func (k Key) Less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return k.ID < o.ID
}

func (k Key) String() string {
	switch k.Kind {
	case KeyPlayer:
		return "player:" + protocol.ClientID(k.ID).String()
	case KeyBullet:
		return fmt.Sprintf("bullet:%#x", k.ID)
	}
	return fmt.Sprintf("static:%d", k.ID)
}
