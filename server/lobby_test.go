package server

import (
	"errors"
	"math/rand"
	"testing"

	"go.uber.org/zap"

	"duel/protocol"
	"duel/utils"
)

func TestLobbyEnterExit(t *testing.T) {
	m := NewLobbyManager(utils.LobbyModePrimary, zap.NewNop().Sugar())
	for _, c := range []protocol.ClientID{10, 11, 12} {
		if _, err := m.Enter(c); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Enter(11); !errors.Is(err, ErrAlreadyInLobby) {
		t.Fatalf("double enter: %v", err)
	}

	lobby, err := m.Exit(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lobby.Players) != 2 || lobby.Players[0] != 11 {
		t.Fatalf("lobby after exit = %+v", lobby)
	}
	if pos, _ := m.Position(12); pos != 1 {
		t.Fatalf("position of 12 = %d", pos)
	}
	if _, err := m.Exit(10); !errors.Is(err, ErrNotInLobby) {
		t.Fatalf("second exit: %v", err)
	}
	if _, _, err := m.Search(13); !errors.Is(err, ErrWrongMode) {
		t.Fatalf("search in primary mode: %v", err)
	}
	if err := m.Check(); err != nil {
		t.Fatal(err)
	}
}

// TestLobbyPositionsStayConsistent applies random joins, leaves and
// disconnects and checks the position map after every one.
func TestLobbyPositionsStayConsistent(t *testing.T) {
	for _, mode := range []string{utils.LobbyModePrimary, utils.LobbyModeMatchmaking} {
		t.Run(mode, func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			m := NewLobbyManager(mode, zap.NewNop().Sugar())
			for i := 0; i < 2000; i++ {
				c := protocol.ClientID(rng.Intn(12) + 1)
				switch rng.Intn(4) {
				case 0:
					if mode == utils.LobbyModePrimary {
						m.Enter(c)
					} else {
						m.Search(c)
					}
				case 1:
					m.Exit(c)
				case 2:
					m.Disconnect(c)
				case 3:
					if mode == utils.LobbyModeMatchmaking {
						m.StopSearch(c)
					}
				}
				if err := m.Check(); err != nil {
					t.Fatalf("step %d: %v", i, err)
				}
			}
		})
	}
}

func TestMatchmakingPairs(t *testing.T) {
	m := NewLobbyManager(utils.LobbyModeMatchmaking, zap.NewNop().Sugar())
	if len(m.Lobbies().Lobbies) != 0 {
		t.Fatalf("matchmaking starts with lobbies")
	}
	if _, err := m.Enter(1); !errors.Is(err, ErrWrongMode) {
		t.Fatalf("EnterLobby in matchmaking mode: %v", err)
	}

	if _, paired, _ := m.Search(1); paired {
		t.Fatalf("paired alone")
	}
	m.Search(2)
	m.StopSearch(2)
	if _, paired, _ := m.Search(3); !paired {
		t.Fatalf("1 and 3 not paired")
	}
	lobby, ok := m.LobbyOf(3)
	if !ok || len(lobby.Players) != 2 || lobby.Players[0] != 1 {
		t.Fatalf("lobby = %+v", lobby)
	}
	if _, _, err := m.Search(1); !errors.Is(err, ErrAlreadyInLobby) {
		t.Fatalf("search while in a lobby: %v", err)
	}

	// An emptied match lobby disappears.
	m.Exit(1)
	m.Exit(3)
	if n := len(m.Lobbies().Lobbies); n != 0 {
		t.Fatalf("%d lobbies left", n)
	}
}

func TestLobbiesAreCopies(t *testing.T) {
	m := NewLobbyManager(utils.LobbyModePrimary, zap.NewNop().Sugar())
	m.Enter(1)
	l := m.Lobbies()
	l.Lobbies[0].Players[0] = 99
	if err := m.Check(); err != nil {
		t.Fatalf("replica aliased server state: %v", err)
	}
}
