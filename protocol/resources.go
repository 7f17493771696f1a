package protocol

import (
	"fmt"
	"sort"

	"duel/wire"
)

type ResourceKind uint8

const (
	ResourceLobbies ResourceKind = iota + 1
	ResourcePlayerBundleMap
	ResourceLobbyPositionMap
	ResourceCycleTimer
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceLobbies:
		return "Lobbies"
	case ResourcePlayerBundleMap:
		return "PlayerBundleMap"
	case ResourceLobbyPositionMap:
		return "LobbyPositionMap"
	case ResourceCycleTimer:
		return "CycleTimer"
	}
	return fmt.Sprintf("resource(%d)", uint8(k))
}

// Resource is a replicated singleton. Only the server mutates resources;
// clients hold read-only replicas.
type Resource interface {
	ResourceKind() ResourceKind
	encode(w *wire.Writer)
}

type Lobby struct {
	ID      LobbyID
	Players []ClientID
}

// IndexOf returns the position of c in the lobby or -1.
func (l *Lobby) IndexOf(c ClientID) int {
	for i, p := range l.Players {
		if p == c {
			return i
		}
	}
	return -1
}

type Lobbies struct {
	Lobbies []Lobby
}

// Clone copies the lobby list so replicas never alias server state.
func (l Lobbies) Clone() Lobbies {
	out := Lobbies{Lobbies: make([]Lobby, len(l.Lobbies))}
	for i, lobby := range l.Lobbies {
		out.Lobbies[i] = Lobby{ID: lobby.ID, Players: append([]ClientID(nil), lobby.Players...)}
	}
	return out
}

type PlayerBundleMap map[ClientID]PlayerBundle

func (m PlayerBundleMap) Clone() PlayerBundleMap {
	out := make(PlayerBundleMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LobbyPositionMap maps a client to its index in its lobby's player list.
type LobbyPositionMap map[ClientID]int

func (m LobbyPositionMap) Clone() LobbyPositionMap {
	out := make(LobbyPositionMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CycleTimer is a tick-driven repeating timer (the day/night cycle).
type CycleTimer struct {
	Elapsed  int64
	Duration int64
	Repeat   bool
	Finished bool
}

// Advance moves the timer one tick forward and reports whether it completed
// a cycle on this tick.
func (t *CycleTimer) Advance() bool {
	if t.Finished && !t.Repeat {
		return false
	}
	t.Elapsed++
	if t.Elapsed < t.Duration {
		return false
	}
	if t.Repeat {
		t.Elapsed = 0
	} else {
		t.Finished = true
	}
	return true
}

func (Lobbies) ResourceKind() ResourceKind          { return ResourceLobbies }
func (PlayerBundleMap) ResourceKind() ResourceKind  { return ResourcePlayerBundleMap }
func (LobbyPositionMap) ResourceKind() ResourceKind { return ResourceLobbyPositionMap }
func (CycleTimer) ResourceKind() ResourceKind       { return ResourceCycleTimer }

func (l Lobbies) encode(w *wire.Writer) {
	w.Uvarint(uint64(len(l.Lobbies)))
	for _, lobby := range l.Lobbies {
		w.Uvarint(uint64(lobby.ID))
		w.Uvarint(uint64(len(lobby.Players)))
		for _, p := range lobby.Players {
			w.Uvarint(uint64(p))
		}
	}
}

func decodeLobbies(r *wire.Reader) Lobbies {
	n := r.Count()
	l := Lobbies{Lobbies: make([]Lobby, 0, n)}
	for i := 0; i < n; i++ {
		lobby := Lobby{ID: LobbyID(r.Uvarint())}
		m := r.Count()
		lobby.Players = make([]ClientID, 0, m)
		for j := 0; j < m; j++ {
			lobby.Players = append(lobby.Players, ClientID(r.Uvarint()))
		}
		l.Lobbies = append(l.Lobbies, lobby)
	}
	return l
}

func sortedClients[V any](m map[ClientID]V) []ClientID {
	keys := make([]ClientID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// encode writes entries in key order so equal maps encode to equal bytes.
func (m PlayerBundleMap) encode(w *wire.Writer) {
	w.Uvarint(uint64(len(m)))
	for _, k := range sortedClients(m) {
		w.Uvarint(uint64(k))
		m[k].encode(w)
	}
}

func decodeBundleMap(r *wire.Reader) PlayerBundleMap {
	n := r.Count()
	m := make(PlayerBundleMap, n)
	for i := 0; i < n; i++ {
		k := ClientID(r.Uvarint())
		m[k] = decodeBundle(r)
	}
	return m
}

func (m LobbyPositionMap) encode(w *wire.Writer) {
	w.Uvarint(uint64(len(m)))
	for _, k := range sortedClients(m) {
		w.Uvarint(uint64(k))
		w.Uvarint(uint64(m[k]))
	}
}

func decodePositionMap(r *wire.Reader) LobbyPositionMap {
	n := r.Count()
	m := make(LobbyPositionMap, n)
	for i := 0; i < n; i++ {
		k := ClientID(r.Uvarint())
		m[k] = int(r.Uvarint())
	}
	return m
}

func (t CycleTimer) encode(w *wire.Writer) {
	w.Varint(t.Elapsed)
	w.Varint(t.Duration)
	w.Bool(t.Repeat)
	w.Bool(t.Finished)
}

func decodeCycleTimer(r *wire.Reader) CycleTimer {
	return CycleTimer{
		Elapsed:  r.Varint(),
		Duration: r.Varint(),
		Repeat:   r.Bool(),
		Finished: r.Bool(),
	}
}

func decodeResource(kind ResourceKind, r *wire.Reader) (Resource, error) {
	switch kind {
	case ResourceLobbies:
		return decodeLobbies(r), r.Err()
	case ResourcePlayerBundleMap:
		return decodeBundleMap(r), r.Err()
	case ResourceLobbyPositionMap:
		return decodePositionMap(r), r.Err()
	case ResourceCycleTimer:
		return decodeCycleTimer(r), r.Err()
	}
	return nil, fmt.Errorf("%w: resource %d", ErrUnknownTag, kind)
}

// EncodeBundleMap produces the persisted form of the profile store. It is the
// same encoding the map uses on the wire, prefixed with the codec version.
func EncodeBundleMap(m PlayerBundleMap) []byte {
	w := wire.NewWriter(64 + 96*len(m))
	w.Byte(wire.Version)
	m.encode(w)
	return w.Data()
}

func DecodeBundleMap(b []byte) (PlayerBundleMap, error) {
	r := wire.NewReader(b)
	if v := r.Byte(); r.Err() == nil && v != wire.Version {
		return nil, fmt.Errorf("%w: profile store version %d", wire.ErrVersionMismatch, v)
	}
	m := decodeBundleMap(r)
	if err := r.Done(); err != nil {
		return nil, err
	}
	return m, nil
}
