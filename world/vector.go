package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	up      = mgl32.Vec3{0, 1, 0}
	forward = mgl32.Vec3{0, 0, 1}
)

// clampDisc limits v to the unit disc.
func clampDisc(v mgl32.Vec2) mgl32.Vec2 {
	if l := v.Len(); l > 1 {
		return v.Mul(1 / l)
	}
	return v
}

func clampLen(v mgl32.Vec3, max float32) mgl32.Vec3 {
	if l := v.Len(); l > max {
		return v.Mul(max / l)
	}
	return v
}

func horizontal(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{v[0], 0, v[2]}
}

// yaw turns +Z toward the (x, y) axis pair on the ground plane.
func yaw(dir mgl32.Vec2) mgl32.Quat {
	angle := float32(math.Atan2(float64(dir[0]), float64(dir[1])))
	return mgl32.QuatRotate(angle, up)
}

func isZero2(v mgl32.Vec2) bool {
	return v[0] == 0 && v[1] == 0
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

func sign32(f float32) float32 {
	if f < 0 {
		return -1
	}
	return 1
}
