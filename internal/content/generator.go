// Package content produces the deterministic pseudo-random text a producer
// streams into its sink.
package content

import "math/rand"

// Alphabet is the set of printable bytes content is drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789 .,;:!?+-*/=_()[]{}<>#'\""

const (
	minLineLength = 40
	maxLineLength = 80
)

// Generator emits alphabet bytes with line breaks placed every 40..80 bytes.
// It performs exactly one draw per output byte, so output depends only on the
// seed and the number of bytes requested, never on how requests are batched.
type Generator struct {
	rnd           *rand.Rand
	lineRemaining int
}

// NewGenerator creates a Generator seeded with seed.
func NewGenerator(seed int64) *Generator {
	g := &Generator{rnd: rand.New(rand.NewSource(seed))}
	g.lineRemaining = g.drawLineLength()
	return g
}

// Fill writes len(buf) content bytes into buf.
func (g *Generator) Fill(buf []byte) {
	for i := range buf {
		if g.lineRemaining == 0 {
			buf[i] = '\n'
			g.lineRemaining = g.drawLineLength()
			continue
		}
		buf[i] = Alphabet[g.rnd.Intn(len(Alphabet))]
		g.lineRemaining--
	}
}

func (g *Generator) drawLineLength() int {
	return minLineLength + g.rnd.Intn(maxLineLength-minLineLength+1)
}
