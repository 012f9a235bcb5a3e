package payload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// NullifierField is the template key stamped with the generated identity.
const NullifierField = "nullifier"

// RandomProducer stands in for the external proof producer. Each payload is a
// copy of the template with a fresh random 32-byte nullifier, hex encoded.
type RandomProducer struct {
	template map[string]any
	rand     io.Reader
}

// NewRandomProducer returns a producer over template. A nil template produces
// payloads holding only the nullifier.
func NewRandomProducer(template map[string]any) *RandomProducer {
	return &RandomProducer{template: template, rand: rand.Reader}
}

// LoadTemplate reads a JSON object used as the base of generated payloads.
func LoadTemplate(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", path, err)
	}
	var tmpl map[string]any
	if err := json.Unmarshal(b, &tmpl); err != nil {
		return nil, fmt.Errorf("load template %s: %w", path, err)
	}
	return tmpl, nil
}

func (p *RandomProducer) Produce(ctx context.Context) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, &ProductionError{Err: err}
	}

	var nullifier [32]byte
	if _, err := io.ReadFull(p.rand, nullifier[:]); err != nil {
		return Payload{}, &ProductionError{Err: fmt.Errorf("nullifier: %w", err)}
	}
	id := hex.EncodeToString(nullifier[:])

	doc := make(map[string]any, len(p.template)+1)
	for k, v := range p.template {
		doc[k] = v
	}
	doc[NullifierField] = id

	body, err := json.Marshal(doc)
	if err != nil {
		return Payload{}, &ProductionError{Err: err}
	}
	return Payload{ID: id, Body: body}, nil
}
