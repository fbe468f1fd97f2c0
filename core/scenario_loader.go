// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
)

// Node is an end device placed on the plane. SpreadingFactor and
// TxPowerIndex are its initial radio settings; the ADR layer owns
// them afterwards.
type Node struct {
	ID              string
	Position        Vec2
	SpreadingFactor int
	TxPowerIndex    int
}

// DistanceTo returns the distance in metres to a gateway.
func (n *Node) DistanceTo(gw *Gateway) float64 {
	return n.Position.DistanceTo(gw.Position)
}

// Gateway is a LoRaWAN gateway. Within one simulated instant,
// gateways are processed in descending numeric ID order, so IDs
// should sort the way the scenario intends.
type Gateway struct {
	ID       string
	Position Vec2
}

// Scenario is the loaded topology plus its channel configuration.
type Scenario struct {
	Channel  RadioLinkConfig
	Nodes    []*Node
	Gateways []*Gateway
}

// internal JSON shapes - kept unexported so the file format can
// evolve independently of the exported types.
type scenarioJSON struct {
	Channel  *RadioLinkConfig   `json:"channel"`
	Nodes    []scenarioNodeJSON `json:"nodes"`
	Gateways []scenarioGwJSON   `json:"gateways"`
}

type scenarioNodeJSON struct {
	ID              string  `json:"id"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	SpreadingFactor int     `json:"spreading_factor"`
	TxPowerIndex    int     `json:"tx_power_index"`
}

type scenarioGwJSON struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// LoadScenario reads a JSON scenario from r. A missing channel block
// falls back to DefaultRadioLinkConfig; node radio settings default
// to SF12 at maximum power, the LoRaWAN join-time state.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	sc := &Scenario{Channel: DefaultRadioLinkConfig()}
	if payload.Channel != nil {
		sc.Channel = *payload.Channel
		if err := sc.Channel.Validate(); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
	}

	for _, jn := range payload.Nodes {
		if jn.ID == "" {
			return nil, fmt.Errorf("LoadScenario: node with empty id")
		}
		sf := jn.SpreadingFactor
		if sf == 0 {
			sf = MaxSpreadingFactor
		}
		if sf < MinSpreadingFactor || sf > MaxSpreadingFactor {
			return nil, fmt.Errorf("LoadScenario: node %q: %w: spreading factor %d",
				jn.ID, ErrInvalidInput, sf)
		}
		if jn.TxPowerIndex < 0 || jn.TxPowerIndex > MaxTxPowerIndex {
			return nil, fmt.Errorf("LoadScenario: node %q: %w: tx power index %d",
				jn.ID, ErrInvalidInput, jn.TxPowerIndex)
		}
		sc.Nodes = append(sc.Nodes, &Node{
			ID:              jn.ID,
			Position:        Vec2{X: jn.X, Y: jn.Y},
			SpreadingFactor: sf,
			TxPowerIndex:    jn.TxPowerIndex,
		})
	}

	for _, jg := range payload.Gateways {
		if jg.ID == "" {
			return nil, fmt.Errorf("LoadScenario: gateway with empty id")
		}
		sc.Gateways = append(sc.Gateways, &Gateway{
			ID:       jg.ID,
			Position: Vec2{X: jg.X, Y: jg.Y},
		})
	}

	if len(sc.Gateways) == 0 {
		return nil, fmt.Errorf("LoadScenario: scenario has no gateways")
	}
	return sc, nil
}
