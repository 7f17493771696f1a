package world

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"

	"duel/protocol"
)

//go:embed arena.txt
var defaultArena string

var ErrBadMap = errors.New("bad map")

type tile uint8

const (
	openTile tile = iota
	wallTile
	spawnTile
)

const wallHeight float32 = 3

// Map is the top-down arena layout. Each tile covers an equal share of the
// floor; '#' is a wall, 'S' a spawn point and '.' open floor.
type Map struct {
	Tiles  []tile
	Width  int
	Height int
}

func (m *Map) At(x, y int) (tile, error) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return openTile, fmt.Errorf("%w: (%d, %d) out of bounds", ErrBadMap, x, y)
	}
	return m.Tiles[m.Width*y+x], nil
}

// LoadMap parses a map: the width, the height, then one row per line.
func LoadMap(contents string) (*Map, error) {
	scanner := bufio.NewScanner(strings.NewReader(contents))

	scanner.Scan()
	width, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return nil, fmt.Errorf("%w: width: %v", ErrBadMap, err)
	}

	scanner.Scan()
	height, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return nil, fmt.Errorf("%w: height: %v", ErrBadMap, err)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrBadMap, width, height)
	}

	tiles := make([]tile, 0, width*height)
	for scanner.Scan() {
		for _, item := range scanner.Text() {
			switch item {
			case '.':
				tiles = append(tiles, openTile)
			case '#':
				tiles = append(tiles, wallTile)
			case 'S':
				tiles = append(tiles, spawnTile)
			}
		}
	}
	if len(tiles) != width*height {
		return nil, fmt.Errorf("%w: %d tiles for %dx%d", ErrBadMap, len(tiles), width, height)
	}

	return &Map{
		Tiles:  tiles,
		Width:  width,
		Height: height,
	}, nil
}

func DefaultMap() *Map {
	m, err := LoadMap(defaultArena)
	if err != nil {
		panic(err)
	}
	return m
}

// Arena is the static geometry built from a map. Both endpoints build it
// locally with the same keys.
type Arena struct {
	Floor  *donburi.Entry
	Spawns []mgl32.Vec3
}

// tileCenter maps a tile to world space so the grid covers the floor.
func (s *Simulation) tileCenter(m *Map, x, y int) (center mgl32.Vec3, half mgl32.Vec3) {
	fe := s.Params.FloorHalfExtents
	tw, th := 2*fe[0]/float32(m.Width), 2*fe[2]/float32(m.Height)
	center = mgl32.Vec3{-fe[0] + tw*(float32(x)+0.5), fe[1], -fe[2] + th*(float32(y)+0.5)}
	return center, mgl32.Vec3{tw / 2, 0, th / 2}
}

// BuildArena spawns the floor and walls of m. Runs of adjacent wall tiles on
// a row become one box.
func (s *Simulation) BuildArena(m *Map) *Arena {
	a := &Arena{}
	a.Floor = s.spawnStatic(StaticKey(0), LayerGround, mgl32.Vec3{}, s.Params.FloorHalfExtents)
	a.Floor.AddComponent(FloorMarker)

	n := 1
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; {
			t, _ := m.At(x, y)
			switch t {
			case spawnTile:
				c, _ := s.tileCenter(m, x, y)
				c[1] += s.Params.PlayerHeight/2 + s.Params.PlayerRadius + 0.5
				a.Spawns = append(a.Spawns, c)
			case wallTile:
				end := x
				for end+1 < m.Width {
					if next, _ := m.At(end+1, y); next != wallTile {
						break
					}
					end++
				}
				first, half := s.tileCenter(m, x, y)
				last, _ := s.tileCenter(m, end, y)
				center := first.Add(last).Mul(0.5)
				center[1] += wallHeight / 2
				half[0] *= float32(end - x + 1)
				half[1] = wallHeight / 2
				s.spawnStatic(StaticKey(n), LayerWall, center, half)
				n++
				x = end + 1
				continue
			}
			x++
		}
	}
	if len(a.Spawns) == 0 {
		a.Spawns = append(a.Spawns, mgl32.Vec3{0, 2, 0})
	}
	return a
}

func (s *Simulation) spawnStatic(key Key, layer Layer, pos, half mgl32.Vec3) *donburi.Entry {
	e := s.World.Entry(s.World.Create(Position, Rotation, Body))
	*Position.Get(e) = protocol.Position(pos)
	*Rotation.Get(e) = protocol.Rotation(mgl32.QuatIdent())
	*Body.Get(e) = RigidBody{
		Key:    key,
		Shape:  Shape{Kind: ShapeCuboid, HalfExtents: half},
		Layer:  layer,
		Mask:   LayerPlayer | LayerBullet,
		Static: true,
	}
	s.index[key] = e.Entity()
	return e
}

// Spawn returns the spawn point for a lobby position.
func (a *Arena) Spawn(index int) mgl32.Vec3 {
	if index < 0 {
		index = 0
	}
	return a.Spawns[index%len(a.Spawns)]
}
