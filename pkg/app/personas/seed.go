package personas

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed seed.json
var seedJSON []byte

// Seeds returns the built-in personas keyed by userId.
func Seeds() (map[string]Persona, error) {
	var items []Persona
	if err := json.Unmarshal(seedJSON, &items); err != nil {
		return nil, fmt.Errorf("decode seed personas: %w", err)
	}
	out := make(map[string]Persona, len(items))
	for _, p := range items {
		out[p.UserID] = p
	}
	return out, nil
}

func seedList(seeds map[string]Persona) []Persona {
	out := make([]Persona, 0, len(seeds))
	for _, p := range seeds {
		out = append(out, p)
	}
	SortByName(out)
	return out
}
