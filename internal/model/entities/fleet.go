package entities

import (
	"encoding/json"
	"fmt"
	"os"
)

// Region is a geographic grouping of greenhouses.
type Region struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Greenhouse is a monitored unit belonging to a Region.
type Greenhouse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RegionID string `json:"region_id"`
}

// Fleet è l'insieme di riferimento (read-only) di regioni e serre.
type Fleet struct {
	Regions     []Region     `json:"regions"`
	Greenhouses []Greenhouse `json:"greenhouses"`
}

// DefaultFleet restituisce il parco serre usato quando non c'è un file di configurazione.
func DefaultFleet() Fleet {
	return Fleet{
		Regions: []Region{
			{ID: "r1", Name: "Центральный округ"},
			{ID: "r2", Name: "Южный округ"},
			{ID: "r3", Name: "Сибирь"},
		},
		Greenhouses: []Greenhouse{
			{ID: "g1", Name: "Теплица-1", RegionID: "r1"},
			{ID: "g2", Name: "Теплица-2", RegionID: "r1"},
			{ID: "g3", Name: "Теплица-3", RegionID: "r2"},
			{ID: "g4", Name: "Теплица-4", RegionID: "r3"},
		},
	}
}

// LoadFleet legge il parco serre da un file JSON e lo valida.
func LoadFleet(path string) (Fleet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fleet{}, fmt.Errorf("read fleet config: %w", err)
	}
	var f Fleet
	if err := json.Unmarshal(raw, &f); err != nil {
		return Fleet{}, fmt.Errorf("parse fleet config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Fleet{}, err
	}
	return f, nil
}

// Validate checks id uniqueness and that every greenhouse points to a known region.
func (f Fleet) Validate() error {
	regions := make(map[string]struct{}, len(f.Regions))
	for _, r := range f.Regions {
		if r.ID == "" {
			return fmt.Errorf("region with empty id")
		}
		if _, dup := regions[r.ID]; dup {
			return fmt.Errorf("duplicate region id %q", r.ID)
		}
		regions[r.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(f.Greenhouses))
	for _, g := range f.Greenhouses {
		if g.ID == "" {
			return fmt.Errorf("greenhouse with empty id")
		}
		if _, dup := seen[g.ID]; dup {
			return fmt.Errorf("duplicate greenhouse id %q", g.ID)
		}
		seen[g.ID] = struct{}{}
		if _, ok := regions[g.RegionID]; !ok {
			return fmt.Errorf("greenhouse %q references unknown region %q", g.ID, g.RegionID)
		}
	}
	return nil
}

func (f Fleet) Greenhouse(id string) (Greenhouse, bool) {
	for _, g := range f.Greenhouses {
		if g.ID == id {
			return g, true
		}
	}
	return Greenhouse{}, false
}

// InRegion filtra le serre per regione; regionID vuoto = tutte.
func InRegion(list []Greenhouse, regionID string) []Greenhouse {
	if regionID == "" {
		out := make([]Greenhouse, len(list))
		copy(out, list)
		return out
	}
	out := make([]Greenhouse, 0, len(list))
	for _, g := range list {
		if g.RegionID == regionID {
			out = append(out, g)
		}
	}
	return out
}
