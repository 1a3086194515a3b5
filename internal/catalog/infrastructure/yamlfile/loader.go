package yamlfile

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	catalog "serramenti/internal/catalog/domain"
)

type frameFile struct {
	Frames []frameDoc `yaml:"frames"`
}

type frameDoc struct {
	ID          string                    `yaml:"id"`
	Name        string                    `yaml:"name"`
	Category    string                    `yaml:"category"`
	OpeningType string                    `yaml:"opening_type"`
	Panels      []catalog.PanelDivision   `yaml:"panels"`
	Sides       map[string]catalog.Bounds `yaml:"sides"`
}

// LoadCatalog reads a catalog yaml file.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog loader: empty path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog loader: read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog yaml and validates every frame.
func ParseCatalog(data []byte) (*catalog.Catalog, error) {
	var file frameFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog loader: decode: %w", err)
	}
	frames := make([]catalog.FrameDefinition, 0, len(file.Frames))
	for _, doc := range file.Frames {
		frame := catalog.FrameDefinition{
			ID:             doc.ID,
			Name:           doc.Name,
			Category:       doc.Category,
			OpeningType:    doc.OpeningType,
			PanelDivisions: doc.Panels,
			Sides:          make(map[catalog.Side]catalog.Bounds, len(doc.Sides)),
		}
		for key, bounds := range doc.Sides {
			frame.Sides[catalog.ParseSide(key)] = bounds
		}
		frames = append(frames, frame)
	}
	return catalog.NewCatalog(frames...)
}
