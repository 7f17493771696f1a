package protocol

import (
	"errors"
	"fmt"

	"github.com/segmentio/ksuid"

	"duel/wire"
)

var ErrBadKey = errors.New("protocol: private key rejected")

// ConnectRequest is the body of a connection-request packet. ClientID 0 asks
// the server to assign one.
type ConnectRequest struct {
	ClientID   ClientID
	PrivateKey string
}

// ConnectAccept is the body of a connection-accept packet.
type ConnectAccept struct {
	ClientID   ClientID
	Session    ksuid.KSUID
	ServerTick int64
	TickRate   uint32
}

type ConnectDenied struct {
	Reason string
}

func (m ConnectRequest) Encode() []byte {
	w := wire.NewWriter(32 + len(m.PrivateKey))
	w.Uvarint(uint64(m.ClientID))
	w.String(m.PrivateKey)
	return w.Data()
}

func DecodeConnectRequest(b []byte) (ConnectRequest, error) {
	r := wire.NewReader(b)
	m := ConnectRequest{ClientID: ClientID(r.Uvarint()), PrivateKey: r.String()}
	return m, r.Done()
}

func (m ConnectAccept) Encode() []byte {
	w := wire.NewWriter(48)
	w.Uvarint(uint64(m.ClientID))
	w.Bytes(m.Session.Bytes())
	w.Varint(m.ServerTick)
	w.Uvarint(uint64(m.TickRate))
	return w.Data()
}

func DecodeConnectAccept(b []byte) (ConnectAccept, error) {
	r := wire.NewReader(b)
	m := ConnectAccept{ClientID: ClientID(r.Uvarint())}
	raw := r.Bytes()
	m.ServerTick = r.Varint()
	m.TickRate = uint32(r.Uvarint())
	if err := r.Done(); err != nil {
		return ConnectAccept{}, err
	}
	id, err := ksuid.FromBytes(raw)
	if err != nil {
		return ConnectAccept{}, fmt.Errorf("session id: %w", err)
	}
	m.Session = id
	return m, nil
}

func (m ConnectDenied) Encode() []byte {
	w := wire.NewWriter(16 + len(m.Reason))
	w.String(m.Reason)
	return w.Data()
}

func DecodeConnectDenied(b []byte) (ConnectDenied, error) {
	r := wire.NewReader(b)
	m := ConnectDenied{Reason: r.String()}
	return m, r.Done()
}
