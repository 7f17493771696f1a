package server

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"duel/protocol"
	"duel/utils"
)

var (
	ErrNotInLobby     = errors.New("server: client is not in a lobby")
	ErrAlreadyInLobby = errors.New("server: client is already in a lobby")
	ErrWrongMode      = errors.New("server: message not valid in this lobby mode")
)

const PrimaryLobby protocol.LobbyID = 0

// LobbyManager owns the Lobbies and LobbyPositionMap resources. In primary
// mode every player joins lobby 0; in matchmaking mode searching clients are
// paired into fresh lobbies.
type LobbyManager struct {
	mode      string
	lobbies   protocol.Lobbies
	positions protocol.LobbyPositionMap
	searching []protocol.ClientID
	nextID    protocol.LobbyID
	log       *zap.SugaredLogger

	// Changed is set by every mutation; the server clears it after
	// replicating the resources.
	Changed bool
}

func NewLobbyManager(mode string, log *zap.SugaredLogger) *LobbyManager {
	m := &LobbyManager{
		mode:      mode,
		positions: make(protocol.LobbyPositionMap),
		log:       log,
	}
	if mode != utils.LobbyModeMatchmaking {
		m.mode = utils.LobbyModePrimary
		m.lobbies.Lobbies = append(m.lobbies.Lobbies, protocol.Lobby{ID: PrimaryLobby})
		m.nextID = PrimaryLobby + 1
	}
	m.Changed = true
	return m
}

func (m *LobbyManager) Mode() string {
	return m.mode
}

func (m *LobbyManager) find(id protocol.LobbyID) *protocol.Lobby {
	for i := range m.lobbies.Lobbies {
		if m.lobbies.Lobbies[i].ID == id {
			return &m.lobbies.Lobbies[i]
		}
	}
	return nil
}

// LobbyOf returns the lobby c is in.
func (m *LobbyManager) LobbyOf(c protocol.ClientID) (*protocol.Lobby, bool) {
	for i := range m.lobbies.Lobbies {
		if m.lobbies.Lobbies[i].IndexOf(c) >= 0 {
			return &m.lobbies.Lobbies[i], true
		}
	}
	return nil, false
}

// Members lists everyone sharing a lobby with c, c included.
func (m *LobbyManager) Members(c protocol.ClientID) []protocol.ClientID {
	lobby, ok := m.LobbyOf(c)
	if !ok {
		return nil
	}
	return append([]protocol.ClientID(nil), lobby.Players...)
}

// Position is c's index in its lobby.
func (m *LobbyManager) Position(c protocol.ClientID) (int, bool) {
	i, ok := m.positions[c]
	return i, ok
}

// Enter appends c to the primary lobby.
func (m *LobbyManager) Enter(c protocol.ClientID) (protocol.Lobby, error) {
	if m.mode != utils.LobbyModePrimary {
		return protocol.Lobby{}, fmt.Errorf("%w: EnterLobby in %s mode", ErrWrongMode, m.mode)
	}
	if _, ok := m.LobbyOf(c); ok {
		return protocol.Lobby{}, fmt.Errorf("%w: %v", ErrAlreadyInLobby, c)
	}
	lobby := m.find(PrimaryLobby)
	lobby.Players = append(lobby.Players, c)
	m.positions[c] = len(lobby.Players) - 1
	m.Changed = true
	m.log.Infow("entered lobby", "client", c, "lobby", lobby.ID, "position", m.positions[c])
	return cloneLobby(lobby), nil
}

// Exit removes c from its lobby and shifts the positions of everyone after
// it. It returns the lobby as it is after the removal. Emptied matchmaking
// lobbies are dropped.
func (m *LobbyManager) Exit(c protocol.ClientID) (protocol.Lobby, error) {
	lobby, ok := m.LobbyOf(c)
	if !ok {
		return protocol.Lobby{}, fmt.Errorf("%w: %v", ErrNotInLobby, c)
	}
	i, ok := m.positions[c]
	if !ok || i >= len(lobby.Players) || lobby.Players[i] != c {
		utils.Must(m.log, false, "lobby position out of sync", "client", c, "position", i)
		i = lobby.IndexOf(c)
	}
	lobby.Players = append(lobby.Players[:i], lobby.Players[i+1:]...)
	delete(m.positions, c)
	for j := i; j < len(lobby.Players); j++ {
		m.positions[lobby.Players[j]] = j
	}
	m.Changed = true
	m.log.Infow("left lobby", "client", c, "lobby", lobby.ID)

	out := cloneLobby(lobby)
	if len(lobby.Players) == 0 && lobby.ID != PrimaryLobby {
		m.removeLobby(lobby.ID)
	}
	return out, nil
}

func (m *LobbyManager) removeLobby(id protocol.LobbyID) {
	kept := m.lobbies.Lobbies[:0]
	for _, l := range m.lobbies.Lobbies {
		if l.ID != id {
			kept = append(kept, l)
		}
	}
	m.lobbies.Lobbies = kept
}

// Search queues c for a match. When two clients are waiting they are moved
// into a fresh lobby, which is returned with paired set.
func (m *LobbyManager) Search(c protocol.ClientID) (lobby protocol.Lobby, paired bool, err error) {
	if m.mode != utils.LobbyModeMatchmaking {
		return protocol.Lobby{}, false, fmt.Errorf("%w: SearchMatch in %s mode", ErrWrongMode, m.mode)
	}
	if _, ok := m.LobbyOf(c); ok {
		return protocol.Lobby{}, false, fmt.Errorf("%w: %v", ErrAlreadyInLobby, c)
	}
	if m.isSearching(c) {
		return protocol.Lobby{}, false, nil
	}
	m.searching = append(m.searching, c)
	if len(m.searching) < 2 {
		return protocol.Lobby{}, false, nil
	}

	pair := m.searching[:2]
	m.searching = append([]protocol.ClientID(nil), m.searching[2:]...)
	created := protocol.Lobby{ID: m.nextID, Players: append([]protocol.ClientID(nil), pair...)}
	m.nextID++
	m.lobbies.Lobbies = append(m.lobbies.Lobbies, created)
	for i, p := range created.Players {
		m.positions[p] = i
	}
	m.Changed = true
	m.log.Infow("match found", "lobby", created.ID, "players", created.Players)
	return cloneLobby(&created), true, nil
}

// StopSearch takes c out of the search queue.
func (m *LobbyManager) StopSearch(c protocol.ClientID) error {
	if m.mode != utils.LobbyModeMatchmaking {
		return fmt.Errorf("%w: StopSearch in %s mode", ErrWrongMode, m.mode)
	}
	m.dropSearch(c)
	return nil
}

func (m *LobbyManager) isSearching(c protocol.ClientID) bool {
	for _, s := range m.searching {
		if s == c {
			return true
		}
	}
	return false
}

func (m *LobbyManager) dropSearch(c protocol.ClientID) {
	for i, s := range m.searching {
		if s == c {
			m.searching = append(m.searching[:i], m.searching[i+1:]...)
			return
		}
	}
}

// Disconnect forgets c in every role. It returns the lobby c left, if any.
func (m *LobbyManager) Disconnect(c protocol.ClientID) (protocol.Lobby, bool) {
	m.dropSearch(c)
	lobby, err := m.Exit(c)
	return lobby, err == nil
}

// Lobbies returns a copy of the lobby list.
func (m *LobbyManager) Lobbies() protocol.Lobbies {
	return m.lobbies.Clone()
}

func (m *LobbyManager) Positions() protocol.LobbyPositionMap {
	return m.positions.Clone()
}

// Check verifies that the position map and the lobby lists agree and that
// no client is in two lobbies.
func (m *LobbyManager) Check() error {
	seen := make(map[protocol.ClientID]protocol.LobbyID)
	for _, lobby := range m.lobbies.Lobbies {
		for i, p := range lobby.Players {
			if other, ok := seen[p]; ok {
				return fmt.Errorf("client %v in lobbies %d and %d", p, other, lobby.ID)
			}
			seen[p] = lobby.ID
			if pos, ok := m.positions[p]; !ok || pos != i {
				return fmt.Errorf("client %v at %d in lobby %d, position map says %d", p, i, lobby.ID, pos)
			}
		}
	}
	if len(seen) != len(m.positions) {
		return fmt.Errorf("position map has %d clients, lobbies have %d", len(m.positions), len(seen))
	}
	return nil
}

func cloneLobby(l *protocol.Lobby) protocol.Lobby {
	return protocol.Lobby{ID: l.ID, Players: append([]protocol.ClientID(nil), l.Players...)}
}
