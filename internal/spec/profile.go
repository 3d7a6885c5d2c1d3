package spec

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxPlayers is the number of player slots a profile may define.
const MaxPlayers = 4

// Profile maps symbolic input names to physical input events for up to
// four players. Immutable once loaded.
type Profile struct {
	// Name identifies the profile (e.g. "default", "cabinet").
	Name string `yaml:"profile"`

	// Players holds one entry per configured player slot.
	Players []PlayerMapping `yaml:"players"`

	// Aliases maps fully symbolic names (P1_START) to explicit
	// player/control pairs, overriding the built-in naming convention.
	Aliases map[string]Alias `yaml:"aliases,omitempty"`
}

// PlayerMapping binds one player's logical controls to physical codes.
type PlayerMapping struct {
	Player  int               `yaml:"player"`
	Mapping map[string]string `yaml:"mapping"`

	// Controller configures physical-device passthrough.
	Controller *Controller `yaml:"controller,omitempty"`
}

// Controller describes an attached physical device.
type Controller struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type,omitempty"`
	Index   int    `yaml:"index,omitempty"`
}

// Alias is an explicit symbol binding.
type Alias struct {
	Player  int    `yaml:"player"`
	Control string `yaml:"control"`
}

// ResolvedInput is a physical input event ready for injection.
type ResolvedInput struct {
	Player  int
	Control string
	Code    string // physical key/button code from the mapping
	Pressed bool
}

// ResolveError reports an input symbol the active profile cannot map.
// Fatal to the test: the scripted sequence cannot proceed meaningfully
// once an input is lost.
type ResolveError struct {
	Symbol string
	Reason string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot resolve input %q: %s", e.Symbol, e.Reason)
}

// LoadProfile reads and validates an input profile document.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	if p.Name == "" {
		return nil, &ValidationError{Path: path, Field: "profile", Message: "profile name is required"}
	}
	seen := make(map[int]bool, len(p.Players))
	for i, pm := range p.Players {
		field := fmt.Sprintf("players[%d]", i)
		if pm.Player < 1 || pm.Player > MaxPlayers {
			return nil, &ValidationError{Path: path, Field: field, Message: fmt.Sprintf("player must be 1..%d, got %d", MaxPlayers, pm.Player)}
		}
		if seen[pm.Player] {
			return nil, &ValidationError{Path: path, Field: field, Message: fmt.Sprintf("duplicate player %d", pm.Player)}
		}
		seen[pm.Player] = true
		if len(pm.Mapping) == 0 {
			return nil, &ValidationError{Path: path, Field: field, Message: "mapping is required"}
		}
	}
	return &p, nil
}

// symbolConvention matches the built-in P<n>_<CONTROL> symbol form.
var symbolConvention = regexp.MustCompile(`^P([1-9])_([A-Z0-9_]+)$`)

// Resolve maps a symbolic input name to a physical event.
//
// A symbol may carry a ":press" or ":release" suffix; bare symbols mean
// press. The name itself resolves through explicit aliases first, then
// the P<n>_<CONTROL> convention, where CONTROL lowercased names either a
// logical control directly (P1_BUTTON_START) or a button shorthand
// (P1_START → button_start).
func (p *Profile) Resolve(symbol string) (ResolvedInput, error) {
	name := symbol
	pressed := true
	if base, suffix, ok := strings.Cut(symbol, ":"); ok {
		switch suffix {
		case "press":
			// default
		case "release":
			pressed = false
		default:
			return ResolvedInput{}, &ResolveError{Symbol: symbol, Reason: fmt.Sprintf("unknown edge %q (want press or release)", suffix)}
		}
		name = base
	}

	player, control, err := p.lookupSymbol(symbol, name)
	if err != nil {
		return ResolvedInput{}, err
	}

	pm := p.playerMapping(player)
	if pm == nil {
		return ResolvedInput{}, &ResolveError{Symbol: symbol, Reason: fmt.Sprintf("profile %q defines no player %d", p.Name, player)}
	}
	code, ok := pm.Mapping[control]
	if !ok {
		return ResolvedInput{}, &ResolveError{Symbol: symbol, Reason: fmt.Sprintf("player %d has no mapping for control %q", player, control)}
	}

	return ResolvedInput{Player: player, Control: control, Code: code, Pressed: pressed}, nil
}

func (p *Profile) lookupSymbol(symbol, name string) (int, string, error) {
	if alias, ok := p.Aliases[name]; ok {
		return alias.Player, alias.Control, nil
	}

	m := symbolConvention.FindStringSubmatch(name)
	if m == nil {
		return 0, "", &ResolveError{Symbol: symbol, Reason: "not an alias and not of the form P<n>_<CONTROL>"}
	}
	player := int(m[1][0] - '0')
	control := strings.ToLower(m[2])

	// Accept both the full logical name and the button shorthand.
	if pm := p.playerMapping(player); pm != nil {
		if _, ok := pm.Mapping[control]; ok {
			return player, control, nil
		}
	}
	return player, "button_" + control, nil
}

func (p *Profile) playerMapping(player int) *PlayerMapping {
	for i := range p.Players {
		if p.Players[i].Player == player {
			return &p.Players[i]
		}
	}
	return nil
}
