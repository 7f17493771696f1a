package client

import (
	"fmt"
	"image/color"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"duel/world"
)

// Game is the debug window: it drives the client from ebiten's update loop
// and prints what the client knows. Enter joins a game, Escape leaves it.
type Game struct {
	client  *Client
	sampler *KeyboardSampler
}

func NewGame(c *Client, sampler *KeyboardSampler) *Game {
	return &Game{client: c, sampler: sampler}
}

func (g *Game) Update() error {
	if err := g.client.Frame(time.Now()); err != nil {
		return err
	}
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyEnter) && !g.client.InLobby:
		g.client.JoinGame()
	case inpututil.IsKeyJustPressed(ebiten.KeyEscape) && g.client.InLobby:
		g.client.LeaveGame()
	}
	return nil
}

func (g *Game) debugString() string {
	lines := []string{
		fmt.Sprintf("TPS: %0.02f, FPS: %0.02f", ebiten.CurrentTPS(), ebiten.CurrentFPS()),
	}
	p := g.client.Predictor()
	if p == nil {
		return strings.Join(append(lines, "connecting..."), "\n")
	}
	lines = append(lines,
		fmt.Sprintf("client %s tick %d confirmed %d rtt %s rollbacks %d",
			g.client.ID(), p.Sim.Clock.Tick(), p.ConfirmedTick(), g.client.RTT().Round(time.Millisecond), p.Rollbacks()),
		fmt.Sprintf("lobby %d in game %v cycle %d/%d", g.client.Lobby, g.client.InLobby, g.client.Cycle.Elapsed, g.client.Cycle.Duration),
	)
	stats := g.client.Stats()
	lines = append(lines, fmt.Sprintf("packets out %d in %d resent %d dup %d", stats.PacketsSent, stats.PacketsReceived, stats.Resends, stats.Duplicates))
	for _, id := range p.Players() {
		pos, ok := p.Visual(id, g.client.Overstep())
		if !ok {
			continue
		}
		status := "-"
		if e, ok := p.Player(id); ok && e.HasComponent(world.Status) {
			status = world.Status.Get(e).Kind.String()
		}
		lines = append(lines, fmt.Sprintf("player %s (%0.2f, %0.2f, %0.2f) %s", id, pos[0], pos[1], pos[2], status))
	}
	return strings.Join(lines, "\n")
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{164, 178, 191, 255})
	ebitenutil.DebugPrint(screen, g.debugString())
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (screenWidth, screenHeight int) {
	g.sampler.Width, g.sampler.Height = outsideWidth, outsideHeight
	return outsideWidth, outsideHeight
}
