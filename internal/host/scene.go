package host

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"
)

// SceneConfig configures a ParticleScene.
type SceneConfig struct {
	Particles  int
	Seed       int64
	Background color.RGBA
}

// DefaultSceneConfig is used by the CLI and server when nothing is set.
var DefaultSceneConfig = SceneConfig{
	Particles:  400,
	Seed:       1,
	Background: color.RGBA{R: 8, G: 10, B: 24, A: 255},
}

type particle struct {
	x, y   float64
	vx, vy float64
	size   int
	hue    float64
}

// ParticleScene is a seeded particle field. Frames are a pure function of
// the frame sequence: the simulation resets on frame 0 and advances by dt
// on every call.
type ParticleScene struct {
	canvas    *Canvas
	cfg       SceneConfig
	particles []particle
}

// NewParticleScene creates a scene that draws onto canvas.
func NewParticleScene(canvas *Canvas, cfg SceneConfig) *ParticleScene {
	if cfg.Particles <= 0 {
		cfg.Particles = DefaultSceneConfig.Particles
	}
	s := &ParticleScene{canvas: canvas, cfg: cfg}
	s.reset()
	return s
}

func (s *ParticleScene) reset() {
	w, h := s.canvas.Size()
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	s.particles = make([]particle, s.cfg.Particles)
	for i := range s.particles {
		angle := rng.Float64() * 2 * math.Pi
		speed := 20 + rng.Float64()*80
		s.particles[i] = particle{
			x:    rng.Float64() * float64(w),
			y:    rng.Float64() * float64(h),
			vx:   math.Cos(angle) * speed,
			vy:   math.Sin(angle) * speed,
			size: 1 + rng.Intn(3),
			hue:  rng.Float64(),
		}
	}
}

// Render advances the simulation by dt and draws frame index.
func (s *ParticleScene) Render(ctx context.Context, index int, t, dt float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if index == 0 {
		s.reset()
	}

	s.canvas.Draw(func(img *image.RGBA) {
		w, h := float64(img.Rect.Dx()), float64(img.Rect.Dy())
		draw.Draw(img, img.Rect, &image.Uniform{C: s.cfg.Background}, image.Point{}, draw.Src)

		for i := range s.particles {
			p := &s.particles[i]
			if index > 0 {
				p.x = wrap(p.x+p.vx*dt, w)
				p.y = wrap(p.y+p.vy*dt, h)
			}
			c := hueColor(math.Mod(p.hue+t*0.1, 1))
			r := image.Rect(int(p.x), int(p.y), int(p.x)+p.size, int(p.y)+p.size).Intersect(img.Rect)
			draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Over)
		}
	})
	return nil
}

func wrap(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	v = math.Mod(v, max)
	if v < 0 {
		v += max
	}
	return v
}

// hueColor maps h in [0,1) to a saturated color.
func hueColor(h float64) color.RGBA {
	h6 := h * 6
	x := uint8(255 * (1 - math.Abs(math.Mod(h6, 2)-1)))
	switch int(h6) % 6 {
	case 0:
		return color.RGBA{R: 255, G: x, B: 0, A: 255}
	case 1:
		return color.RGBA{R: x, G: 255, B: 0, A: 255}
	case 2:
		return color.RGBA{R: 0, G: 255, B: x, A: 255}
	case 3:
		return color.RGBA{R: 0, G: x, B: 255, A: 255}
	case 4:
		return color.RGBA{R: x, G: 0, B: 255, A: 255}
	default:
		return color.RGBA{R: 255, G: 0, B: x, A: 255}
	}
}
