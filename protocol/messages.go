package protocol

import (
	"errors"
	"fmt"

	"duel/wire"
)

var (
	ErrUnknownTag     = errors.New("protocol: unknown tag")
	ErrUnknownMessage = errors.New("protocol: unknown message")
	ErrWrongDirection = errors.New("protocol: message sent in the wrong direction")
)

// Flow is the direction a message is allowed to travel.
type Flow uint8

const (
	ClientToServer Flow = iota
	ServerToClient
	Bidirectional
)

// Side names the endpoint decoding a message.
type Side uint8

const (
	ServerSide Side = iota
	ClientSide
)

func (f Flow) accepts(side Side) bool {
	switch f {
	case ClientToServer:
		return side == ServerSide
	case ServerToClient:
		return side == ClientSide
	}
	return true
}

type MessageKind uint8

const (
	KindEnterLobby MessageKind = iota + 1
	KindExitLobby
	KindStartGame
	KindSearchMatch
	KindStopSearch
	KindSavePlayer
	KindSaveVisual
	KindChangeChar
	KindSendBundle
	KindInput
	KindReplication
	KindResourceUpdate
)

type Message interface {
	MessageKind() MessageKind
	encode(w *wire.Writer)
}

type EnterLobby struct{}
type ExitLobby struct{}
type SearchMatch struct{}
type StopSearch struct{}
type SavePlayer struct{}

type StartGame struct {
	LobbyID LobbyID
}

type SaveVisual struct {
	Visuals PlayerVisuals
}

// ChangeChar swaps one visual part. Clients request it; the server echoes the
// accepted change back to the requester.
type ChangeChar struct {
	OldPart string
	NewPart string
}

type SendBundle struct {
	Profile PlayerBundle
}

// InputMessage carries the sliding window of inputs ending at EndTick;
// Actions[i] targets tick EndTick-len(Actions)+1+i.
type InputMessage struct {
	EndTick int64
	Actions []ActionState
	Inputs  []Inputs
}

// StartTick is the tick of the first entry in the window.
func (m *InputMessage) StartTick() int64 {
	return m.EndTick - int64(len(m.Actions)) + 1
}

type EntitySpawn struct {
	Entity uint64
	// Predicted marks the entity for local prediction on this client.
	Predicted bool
	// Interpolated marks the entity for snapshot interpolation.
	Interpolated bool
	Components   []Component
}

type EntityUpdate struct {
	Entity     uint64
	Components []Component
}

// Replication is one replication group: everything a client must apply
// atomically for server tick Tick.
type Replication struct {
	Tick     int64
	Spawns   []EntitySpawn
	Updates  []EntityUpdate
	Despawns []uint64
}

func (r *Replication) Empty() bool {
	return len(r.Spawns) == 0 && len(r.Updates) == 0 && len(r.Despawns) == 0
}

type ResourceUpdate struct {
	Resource Resource
}

func (EnterLobby) MessageKind() MessageKind     { return KindEnterLobby }
func (ExitLobby) MessageKind() MessageKind      { return KindExitLobby }
func (StartGame) MessageKind() MessageKind      { return KindStartGame }
func (SearchMatch) MessageKind() MessageKind    { return KindSearchMatch }
func (StopSearch) MessageKind() MessageKind     { return KindStopSearch }
func (SavePlayer) MessageKind() MessageKind     { return KindSavePlayer }
func (SaveVisual) MessageKind() MessageKind     { return KindSaveVisual }
func (ChangeChar) MessageKind() MessageKind     { return KindChangeChar }
func (SendBundle) MessageKind() MessageKind     { return KindSendBundle }
func (*InputMessage) MessageKind() MessageKind  { return KindInput }
func (*Replication) MessageKind() MessageKind   { return KindReplication }
func (ResourceUpdate) MessageKind() MessageKind { return KindResourceUpdate }

func (EnterLobby) encode(*wire.Writer)  {}
func (ExitLobby) encode(*wire.Writer)   {}
func (SearchMatch) encode(*wire.Writer) {}
func (StopSearch) encode(*wire.Writer)  {}
func (SavePlayer) encode(*wire.Writer)  {}

func (m StartGame) encode(w *wire.Writer)  { w.Uvarint(uint64(m.LobbyID)) }
func (m SaveVisual) encode(w *wire.Writer) { m.Visuals.encode(w) }
func (m SendBundle) encode(w *wire.Writer) { m.Profile.encode(w) }

func (m ChangeChar) encode(w *wire.Writer) {
	w.String(m.OldPart)
	w.String(m.NewPart)
}

func (m *InputMessage) encode(w *wire.Writer) {
	w.Varint(m.EndTick)
	w.Uvarint(uint64(len(m.Actions)))
	for _, a := range m.Actions {
		a.encode(w)
	}
	w.Uvarint(uint64(len(m.Inputs)))
	for _, in := range m.Inputs {
		in.encode(w)
	}
}

func (m *Replication) encode(w *wire.Writer) {
	w.Varint(m.Tick)
	w.Uvarint(uint64(len(m.Spawns)))
	for _, s := range m.Spawns {
		w.Uvarint(s.Entity)
		w.Bool(s.Predicted)
		w.Bool(s.Interpolated)
		encodeComponents(w, s.Components)
	}
	w.Uvarint(uint64(len(m.Updates)))
	for _, u := range m.Updates {
		w.Uvarint(u.Entity)
		encodeComponents(w, u.Components)
	}
	w.Uvarint(uint64(len(m.Despawns)))
	for _, e := range m.Despawns {
		w.Uvarint(e)
	}
}

func (m ResourceUpdate) encode(w *wire.Writer) {
	w.Byte(byte(m.Resource.ResourceKind()))
	m.Resource.encode(w)
}

func decodeInputMessage(r *wire.Reader) (Message, error) {
	m := &InputMessage{EndTick: r.Varint()}
	n := r.Count()
	m.Actions = make([]ActionState, 0, n)
	for i := 0; i < n; i++ {
		m.Actions = append(m.Actions, decodeActionState(r))
	}
	n = r.Count()
	m.Inputs = make([]Inputs, 0, n)
	for i := 0; i < n; i++ {
		m.Inputs = append(m.Inputs, decodeInputs(r))
	}
	if len(m.Inputs) != 0 && len(m.Inputs) != len(m.Actions) {
		return nil, fmt.Errorf("%w: %d inputs for %d actions", wire.ErrBadPacket, len(m.Inputs), len(m.Actions))
	}
	return m, r.Err()
}

func decodeReplication(r *wire.Reader) (Message, error) {
	m := &Replication{Tick: r.Varint()}
	n := r.Count()
	for i := 0; i < n; i++ {
		s := EntitySpawn{Entity: r.Uvarint(), Predicted: r.Bool(), Interpolated: r.Bool()}
		cs, err := decodeComponents(r)
		if err != nil {
			return nil, err
		}
		s.Components = cs
		m.Spawns = append(m.Spawns, s)
	}
	n = r.Count()
	for i := 0; i < n; i++ {
		u := EntityUpdate{Entity: r.Uvarint()}
		cs, err := decodeComponents(r)
		if err != nil {
			return nil, err
		}
		u.Components = cs
		m.Updates = append(m.Updates, u)
	}
	n = r.Count()
	for i := 0; i < n; i++ {
		m.Despawns = append(m.Despawns, r.Uvarint())
	}
	return m, r.Err()
}

func decodeResourceUpdate(r *wire.Reader) (Message, error) {
	kind := ResourceKind(r.Byte())
	if err := r.Err(); err != nil {
		return nil, err
	}
	res, err := decodeResource(kind, r)
	if err != nil {
		return nil, err
	}
	return ResourceUpdate{Resource: res}, nil
}

// MessageInfo is one declarative registry entry.
type MessageInfo struct {
	Kind    MessageKind
	Name    string
	Flow    Flow
	Channel wire.ChannelID
	decode  func(r *wire.Reader) (Message, error)
}

func empty(m Message) func(*wire.Reader) (Message, error) {
	return func(*wire.Reader) (Message, error) { return m, nil }
}

var messages = map[MessageKind]MessageInfo{
	KindEnterLobby:  {Name: "EnterLobby", Flow: ClientToServer, Channel: wire.OrderedReliable, decode: empty(EnterLobby{})},
	KindExitLobby:   {Name: "ExitLobby", Flow: ClientToServer, Channel: wire.OrderedReliable, decode: empty(ExitLobby{})},
	KindSearchMatch: {Name: "SearchMatch", Flow: ClientToServer, Channel: wire.OrderedReliable, decode: empty(SearchMatch{})},
	KindStopSearch:  {Name: "StopSearch", Flow: ClientToServer, Channel: wire.OrderedReliable, decode: empty(StopSearch{})},
	KindSavePlayer:  {Name: "SavePlayer", Flow: ClientToServer, Channel: wire.OrderedReliable, decode: empty(SavePlayer{})},
	KindStartGame: {
		Name: "StartGame", Flow: ServerToClient, Channel: wire.OrderedReliable,
		decode: func(r *wire.Reader) (Message, error) {
			return StartGame{LobbyID: LobbyID(r.Uvarint())}, r.Err()
		},
	},
	KindSaveVisual: {
		Name: "SaveVisual", Flow: ClientToServer, Channel: wire.OrderedReliable,
		decode: func(r *wire.Reader) (Message, error) {
			return SaveVisual{Visuals: decodeVisuals(r)}, r.Err()
		},
	},
	KindChangeChar: {
		Name: "ChangeChar", Flow: Bidirectional, Channel: wire.OrderedReliable,
		decode: func(r *wire.Reader) (Message, error) {
			return ChangeChar{OldPart: r.String(), NewPart: r.String()}, r.Err()
		},
	},
	KindSendBundle: {
		Name: "SendBundle", Flow: ServerToClient, Channel: wire.OrderedReliable,
		decode: func(r *wire.Reader) (Message, error) {
			return SendBundle{Profile: decodeBundle(r)}, r.Err()
		},
	},
	KindInput:          {Name: "Input", Flow: ClientToServer, Channel: wire.UnorderedReliable, decode: decodeInputMessage},
	KindReplication:    {Name: "Replication", Flow: ServerToClient, Channel: wire.OrderedReliable, decode: decodeReplication},
	KindResourceUpdate: {Name: "ResourceUpdate", Flow: ServerToClient, Channel: wire.OrderedReliable, decode: decodeResourceUpdate},
}

func init() {
	for kind, info := range messages {
		info.Kind = kind
		messages[kind] = info
	}
}

func (k MessageKind) String() string {
	if info, ok := messages[k]; ok {
		return info.Name
	}
	return fmt.Sprintf("message(%d)", uint8(k))
}

// ChannelOf returns the channel m must be sent on.
func ChannelOf(m Message) wire.ChannelID {
	return messages[m.MessageKind()].Channel
}

// EncodeMessage frames m as version, tag and body.
func EncodeMessage(m Message) []byte {
	w := wire.NewWriter(64)
	w.Byte(wire.Version)
	w.Byte(byte(m.MessageKind()))
	m.encode(w)
	return w.Data()
}

// DecodeMessage parses a payload received by side. Unknown tags and messages
// travelling against their registered flow are rejected.
func DecodeMessage(b []byte, side Side) (Message, error) {
	r := wire.NewReader(b)
	version := r.Byte()
	kind := MessageKind(r.Byte())
	if err := r.Err(); err != nil {
		return nil, err
	}
	if version != wire.Version {
		return nil, fmt.Errorf("%w: message version %d", wire.ErrVersionMismatch, version)
	}
	info, ok := messages[kind]
	if !ok {
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownMessage, kind)
	}
	if !info.Flow.accepts(side) {
		return nil, fmt.Errorf("%w: %s", ErrWrongDirection, info.Name)
	}
	m, err := info.decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", info.Name, err)
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", info.Name, err)
	}
	return m, nil
}
