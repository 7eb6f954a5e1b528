// Package roadnet discovers intersection ids from a CityFlow road network file.
package roadnet

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultIntersection is used when a road network yields no ids.
const DefaultIntersection = "intersection_0"

type file struct {
	Intersections []struct {
		ID      string `json:"id"`
		Virtual bool   `json:"virtual"`
	} `json:"intersections"`
}

// Options controls discovery.
type Options struct {
	// SkipVirtual drops intersections CityFlow marks as virtual (boundary nodes).
	SkipVirtual bool
}

// LoadIntersectionIDs returns the intersection ids in file order.
func LoadIntersectionIDs(path string, opts Options) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roadnet %s: %w", path, err)
	}

	var rn file
	if err := json.Unmarshal(data, &rn); err != nil {
		return nil, fmt.Errorf("failed to parse roadnet %s: %w", path, err)
	}

	ids := make([]string, 0, len(rn.Intersections))
	seen := make(map[string]bool, len(rn.Intersections))
	for _, in := range rn.Intersections {
		if in.ID == "" || seen[in.ID] {
			continue
		}
		if opts.SkipVirtual && in.Virtual {
			continue
		}
		seen[in.ID] = true
		ids = append(ids, in.ID)
	}
	return ids, nil
}

// Discover loads ids from path and falls back to DefaultIntersection when
// the file is missing, unreadable or empty. The returned error explains why
// the fallback was used; it is nil when ids came from the file.
func Discover(path string, opts Options) ([]string, error) {
	ids, err := LoadIntersectionIDs(path, opts)
	if err != nil {
		return []string{DefaultIntersection}, err
	}
	if len(ids) == 0 {
		return []string{DefaultIntersection}, fmt.Errorf("roadnet %s has no intersections", path)
	}
	return ids, nil
}
